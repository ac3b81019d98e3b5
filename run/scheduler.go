package run

import (
	"context"
	"sync"
)

// forEachInput fans fn out over n indices on a bounded pool and returns
// the outcomes index-addressed, so outcome order always matches input
// order no matter how the pool interleaves completions.
func forEachInput(ctx context.Context, n, concurrency int, fn func(ctx context.Context, idx int) taskOutcome) []taskOutcome {
	if concurrency < 1 {
		concurrency = 1
	}
	outcomes := make([]taskOutcome, n)

	// Semaphore to limit concurrent pipelines
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		i := i // capture
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Acquire semaphore slot (blocks if at concurrency limit)
			sem <- struct{}{}
			defer func() { <-sem }()

			select {
			case <-ctx.Done():
				outcomes[i] = taskOutcome{err: ctx.Err()}
				return
			default:
			}

			outcomes[i] = fn(ctx, i)
		}()
	}

	wg.Wait()
	return outcomes
}
