package run

import (
	"fmt"

	"sortie/store"
)

// ScriptError is an uncaught failure inside a stage script.
type ScriptError struct {
	Stage store.Stage
	Err   error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("%s script: %v", e.Stage, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// FlowEnvelopeError is a recognized directive envelope whose payload does
// not fit the directive, or a directive used at a stage that cannot honor
// it. It is a stage error, never a silently-ignored value.
type FlowEnvelopeError struct {
	Stage  store.Stage
	Kind   string
	Reason string
}

func (e *FlowEnvelopeError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("%s flow envelope: %s", e.Stage, e.Reason)
	}
	return fmt.Sprintf("%s flow envelope %s: %s", e.Stage, e.Kind, e.Reason)
}

// ModelCallError is an AI provider failure. It surfaces as an ordinary
// Ai-stage error, isolated to the task that made the call.
type ModelCallError struct {
	Model string
	Err   error
}

func (e *ModelCallError) Error() string {
	return fmt.Sprintf("model %s: %v", e.Model, e.Err)
}

func (e *ModelCallError) Unwrap() error { return e.Err }

// PersistenceError is a tracker read or write failure. Always fatal: it
// unwinds past every stage boundary and nothing attempts to record an
// error about it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// persist wraps a tracker error, passing nil through.
func persist(op string, err error) error {
	if err != nil {
		return &PersistenceError{Op: op, Err: err}
	}
	return nil
}

// errStage reports which stage an error belongs to for ErrRecord rows.
func errStage(err error, fallback store.Stage) store.Stage {
	switch e := err.(type) {
	case *ScriptError:
		return e.Stage
	case *FlowEnvelopeError:
		return e.Stage
	case *ModelCallError:
		return store.StageAi
	}
	return fallback
}
