package run

import (
	"sortie/script"
	"sortie/store"
)

// RuntimeCtx identifies which run, task, and stage a script invocation
// belongs to. It is threaded explicitly into every stage env; nothing in
// the engine consults ambient run state.
type RuntimeCtx struct {
	RunID   int64
	RunUID  string
	TaskID  int64
	TaskUID string
	Stage   store.Stage
	Idx     int
}

// forStage returns a copy scoped to the given stage.
func (c RuntimeCtx) forStage(stage store.Stage) RuntimeCtx {
	c.Stage = stage
	return c
}

// forTask returns a copy scoped to one task.
func (c RuntimeCtx) forTask(t *store.Task) RuntimeCtx {
	c.TaskID = t.ID
	c.TaskUID = t.UID
	c.Idx = t.Idx
	return c
}

// envView is the `run` binding exposed to stage scripts. Task fields are
// present only at task scope.
func (c RuntimeCtx) envView() map[string]any {
	view := map[string]any{
		"run_uid": c.RunUID,
		"stage":   string(c.Stage),
	}
	if c.TaskID != 0 {
		view["task_uid"] = c.TaskUID
		view["idx"] = c.Idx
	}
	return view
}

// baseEnv builds a stage env seeded with the helper functions and the
// `run` view.
func (c RuntimeCtx) baseEnv() script.Env {
	env := script.BaseEnv()
	env["run"] = c.envView()
	return env
}
