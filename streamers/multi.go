package streamers

import "sortie/store"

// Multi fans every event out to each wrapped handler in order.
type Multi struct {
	handlers []RunHandler
}

func NewMulti(handlers ...RunHandler) *Multi {
	return &Multi{handlers: handlers}
}

func (m *Multi) RunStarted(run *store.Run, inputCount int) {
	for _, h := range m.handlers {
		h.RunStarted(run, inputCount)
	}
}

func (m *Multi) RunCompleted(run *store.Run, outputs []any) {
	for _, h := range m.handlers {
		h.RunCompleted(run, outputs)
	}
}

func (m *Multi) RunFailed(run *store.Run, stage store.Stage, err error) {
	for _, h := range m.handlers {
		h.RunFailed(run, stage, err)
	}
}

func (m *Multi) BeforeAllStarted() {
	for _, h := range m.handlers {
		h.BeforeAllStarted()
	}
}

func (m *Multi) BeforeAllCompleted() {
	for _, h := range m.handlers {
		h.BeforeAllCompleted()
	}
}

func (m *Multi) TasksStarted(taskCount int, concurrency int) {
	for _, h := range m.handlers {
		h.TasksStarted(taskCount, concurrency)
	}
}

func (m *Multi) AfterAllStarted() {
	for _, h := range m.handlers {
		h.AfterAllStarted()
	}
}

func (m *Multi) AfterAllCompleted() {
	for _, h := range m.handlers {
		h.AfterAllCompleted()
	}
}

func (m *Multi) TaskStarted(idx int, input any) {
	for _, h := range m.handlers {
		h.TaskStarted(idx, input)
	}
}

func (m *Multi) TaskCompleted(idx int, output any) {
	for _, h := range m.handlers {
		h.TaskCompleted(idx, output)
	}
}

func (m *Multi) TaskSkipped(idx int, reason string) {
	for _, h := range m.handlers {
		h.TaskSkipped(idx, reason)
	}
}

func (m *Multi) TaskFailed(idx int, err error) {
	for _, h := range m.handlers {
		h.TaskFailed(idx, err)
	}
}

func (m *Multi) PinUpserted(pin store.NewPin) {
	for _, h := range m.handlers {
		h.PinUpserted(pin)
	}
}
