package streamers

import "sortie/store"

// Noop ignores every event. Embed it to implement only the events a
// handler cares about.
type Noop struct{}

func (Noop) RunStarted(*store.Run, int)                {}
func (Noop) RunCompleted(*store.Run, []any)            {}
func (Noop) RunFailed(*store.Run, store.Stage, error)  {}
func (Noop) BeforeAllStarted()                         {}
func (Noop) BeforeAllCompleted()                       {}
func (Noop) TasksStarted(int, int)                     {}
func (Noop) AfterAllStarted()                          {}
func (Noop) AfterAllCompleted()                        {}
func (Noop) TaskStarted(int, any)                      {}
func (Noop) TaskCompleted(int, any)                    {}
func (Noop) TaskSkipped(int, string)                   {}
func (Noop) TaskFailed(int, error)                     {}
func (Noop) PinUpserted(store.NewPin)                  {}
