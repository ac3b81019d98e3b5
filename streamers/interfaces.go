package streamers

import "sortie/store"

// RunHandler defines the interface for handling run execution events.
// Different implementations can handle terminal output, websockets, etc.
type RunHandler interface {
	// Run lifecycle
	RunStarted(run *store.Run, inputCount int)
	RunCompleted(run *store.Run, outputs []any)
	RunFailed(run *store.Run, stage store.Stage, err error)

	// Run-scope stages
	BeforeAllStarted()
	BeforeAllCompleted()
	TasksStarted(taskCount int, concurrency int)
	AfterAllStarted()
	AfterAllCompleted()

	// Task lifecycle
	TaskStarted(idx int, input any)
	TaskCompleted(idx int, output any)
	TaskSkipped(idx int, reason string)
	TaskFailed(idx int, err error)

	// Annotations
	PinUpserted(pin store.NewPin)
}
