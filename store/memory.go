package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewMemoryTracker creates a Tracker backed entirely by in-process state.
// It is the default when no storage is configured and what fast tests use.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		runs:  make(map[int64]*Run),
		tasks: make(map[int64]*Task),
		pins:  make(map[pinKey]*Pin),
		errs:  make(map[string]*ErrRecord),
	}
}

type pinKey struct {
	runID  int64
	taskID int64 // 0 for run-scoped pins
	iden   string
}

// MemoryTracker implements Tracker with mutex-guarded maps.
type MemoryTracker struct {
	mu      sync.Mutex
	runSeq  int64
	taskSeq int64
	stepSeq int64
	pinSeq  int64
	runs    map[int64]*Run
	tasks   map[int64]*Task
	steps   []RunStep
	pins    map[pinKey]*Pin
	errs    map[string]*ErrRecord
}

func (t *MemoryTracker) Close() error {
	return nil
}

// =============================================================================
// Run lifecycle
// =============================================================================

func (t *MemoryTracker) CreateRun(nr NewRun) (*Run, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.runSeq++
	now := time.Now()
	concurrency := nr.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	r := &Run{
		ID:          t.runSeq,
		UID:         uuid.NewString(),
		ParentUID:   nr.ParentUID,
		AgentName:   nr.AgentName,
		AgentPath:   nr.AgentPath,
		Model:       nr.Model,
		Label:       nr.Label,
		Concurrency: concurrency,
		CTime:       now,
		MTime:       now,
	}
	t.runs[r.ID] = r
	out := *r
	return &out, nil
}

func (t *MemoryTracker) StepRunStart(runID int64) error {
	return t.stepRun(runID, StageRun, "run_start", "Run started", func(r *Run, now time.Time) { r.Start = &now })
}

func (t *MemoryTracker) StepRunBAStart(runID int64) error {
	return t.stepRun(runID, StageBeforeAll, "ba_start", "Before All started", func(r *Run, now time.Time) { r.BAStart = &now })
}

func (t *MemoryTracker) StepRunBAEnd(runID int64) error {
	return t.stepRun(runID, StageBeforeAll, "ba_end", "Before All ended", func(r *Run, now time.Time) { r.BAEnd = &now })
}

func (t *MemoryTracker) StepRunTasksStart(runID int64) error {
	return t.stepRun(runID, StageRun, "tasks_start", "Tasks started", func(r *Run, now time.Time) { r.TasksStart = &now })
}

func (t *MemoryTracker) StepRunTasksEnd(runID int64) error {
	return t.stepRun(runID, StageRun, "tasks_end", "Tasks ended", func(r *Run, now time.Time) { r.TasksEnd = &now })
}

func (t *MemoryTracker) StepRunAAStart(runID int64) error {
	return t.stepRun(runID, StageAfterAll, "aa_start", "After All started", func(r *Run, now time.Time) { r.AAStart = &now })
}

func (t *MemoryTracker) StepRunAAEnd(runID int64) error {
	return t.stepRun(runID, StageAfterAll, "aa_end", "After All ended", func(r *Run, now time.Time) { r.AAEnd = &now })
}

func (t *MemoryTracker) StepRunEndOk(runID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.runs[runID]
	if !ok {
		return fmt.Errorf("run %d not found", runID)
	}
	now := time.Now()
	if r.EndState == nil {
		es := EndStateOk
		r.EndState = &es
	}
	r.End = &now
	r.MTime = now
	t.appendStep(runID, nil, StageRun, "run_end_ok", "Run ended Ok", now)
	return nil
}

func (t *MemoryTracker) StepRunEndErr(runID int64, stage Stage, errContent string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.runs[runID]
	if !ok {
		return "", fmt.Errorf("run %d not found", runID)
	}
	now := time.Now()
	errID := ""
	if r.EndState == nil {
		errID = uuid.NewString()
		es := EndStateErr
		r.EndState = &es
		id := errID
		r.EndErrID = &id
		t.errs[errID] = &ErrRecord{ID: errID, RunID: &runID, Stage: stage, Content: errContent, CTime: now}
	}
	r.End = &now
	r.MTime = now
	t.appendStep(runID, nil, stage, "run_end_err", errContent, now)
	return errID, nil
}

func (t *MemoryTracker) SetRunModel(runID int64, model string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r, ok := t.runs[runID]; ok {
		r.Model = model
		r.MTime = time.Now()
	}
	return nil
}

func (t *MemoryTracker) AddRunCost(runID int64, delta float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r, ok := t.runs[runID]; ok {
		r.TotalCost += delta
		r.MTime = time.Now()
	}
	return nil
}

// =============================================================================
// Task lifecycle
// =============================================================================

func (t *MemoryTracker) CreateTask(nt NewTask) (*Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.runs[nt.RunID]; !ok {
		return nil, fmt.Errorf("run %d not found", nt.RunID)
	}
	t.taskSeq++
	now := time.Now()
	tk := &Task{
		ID:           t.taskSeq,
		UID:          uuid.NewString(),
		RunID:        nt.RunID,
		Idx:          nt.Idx,
		Label:        nt.Label,
		InputContent: nt.InputContent,
		CTime:        now,
		MTime:        now,
	}
	t.tasks[tk.ID] = tk
	out := *tk
	return &out, nil
}

func (t *MemoryTracker) StepTaskStart(taskID int64) error {
	return t.stepTask(taskID, StageRun, "task_start", "Task started", func(tk *Task, now time.Time) { tk.Start = &now })
}

func (t *MemoryTracker) StepTaskDataStart(taskID int64) error {
	return t.stepTask(taskID, StageData, "data_start", "Data stage started", func(tk *Task, now time.Time) { tk.DataStart = &now })
}

func (t *MemoryTracker) StepTaskDataEnd(taskID int64) error {
	return t.stepTask(taskID, StageData, "data_end", "Data stage ended", func(tk *Task, now time.Time) { tk.DataEnd = &now })
}

func (t *MemoryTracker) StepTaskAiStart(taskID int64) error {
	return t.stepTask(taskID, StageAi, "ai_start", "Ai stage started", func(tk *Task, now time.Time) { tk.AiStart = &now })
}

func (t *MemoryTracker) StepTaskAiEnd(taskID int64) error {
	return t.stepTask(taskID, StageAi, "ai_end", "Ai stage ended", func(tk *Task, now time.Time) { tk.AiEnd = &now })
}

func (t *MemoryTracker) StepTaskOutputStart(taskID int64) error {
	return t.stepTask(taskID, StageOutput, "output_start", "Output stage started", func(tk *Task, now time.Time) { tk.OutputStart = &now })
}

func (t *MemoryTracker) StepTaskOutputEnd(taskID int64) error {
	return t.stepTask(taskID, StageOutput, "output_end", "Output stage ended", func(tk *Task, now time.Time) { tk.OutputEnd = &now })
}

func (t *MemoryTracker) StepTaskEndOk(taskID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, ok := t.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %d not found", taskID)
	}
	now := time.Now()
	if tk.EndState == nil {
		es := EndStateOk
		tk.EndState = &es
	}
	tk.End = &now
	tk.MTime = now
	t.appendStep(tk.RunID, &taskID, StageRun, "task_end_ok", "Task ended Ok", now)
	return nil
}

func (t *MemoryTracker) StepTaskEndErr(taskID int64, stage Stage, errContent string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, ok := t.tasks[taskID]
	if !ok {
		return "", fmt.Errorf("task %d not found", taskID)
	}
	now := time.Now()
	errID := ""
	if tk.EndState == nil {
		errID = uuid.NewString()
		es := EndStateErr
		tk.EndState = &es
		id := errID
		tk.EndErrID = &id
		runID := tk.RunID
		t.errs[errID] = &ErrRecord{ID: errID, RunID: &runID, TaskID: &taskID, Stage: stage, Content: errContent, CTime: now}
	}
	tk.End = &now
	tk.MTime = now
	t.appendStep(tk.RunID, &taskID, stage, "task_end_err", errContent, now)
	return errID, nil
}

func (t *MemoryTracker) StepTaskEndSkip(taskID int64, idx int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, ok := t.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %d not found", taskID)
	}
	now := time.Now()
	if tk.EndState == nil {
		es := EndStateSkip
		tk.EndState = &es
		r := reason
		tk.EndSkipReason = &r
	}
	tk.End = &now
	tk.MTime = now
	msg := fmt.Sprintf("Task skipped (input index: %d)", idx)
	if reason != "" {
		msg = fmt.Sprintf("Task skipped (input index: %d): %s", idx, reason)
	}
	t.appendStep(tk.RunID, &taskID, StageData, "task_end_skip", msg, now)
	return nil
}

func (t *MemoryTracker) SetTaskModelOv(taskID int64, model string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tk, ok := t.tasks[taskID]; ok {
		m := model
		tk.ModelOv = &m
		tk.MTime = time.Now()
	}
	return nil
}

func (t *MemoryTracker) SetTaskOutput(taskID int64, outputJSON string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tk, ok := t.tasks[taskID]; ok {
		o := outputJSON
		tk.OutputContent = &o
		tk.MTime = time.Now()
	}
	return nil
}

func (t *MemoryTracker) RecordTaskUsage(taskID int64, usage TokenUsage, cost float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tk, ok := t.tasks[taskID]; ok {
		tk.Usage = usage
		tk.Cost = cost
		tk.MTime = time.Now()
	}
	return nil
}

func (t *MemoryTracker) CancelAllNotEndedForRun(runID int64) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	var n int64
	for _, tk := range t.tasks {
		if tk.RunID != runID || tk.EndState != nil {
			continue
		}
		es := EndStateCancel
		tk.EndState = &es
		end := now
		tk.End = &end
		tk.MTime = now
		n++
	}
	msg := fmt.Sprintf("Cancelled %d task(s) not yet ended", n)
	t.appendStep(runID, nil, StageRun, "cancel_tasks", msg, now)
	return n, nil
}

// =============================================================================
// Reads
// =============================================================================

func (t *MemoryTracker) GetRun(runID int64) (*Run, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %d not found", runID)
	}
	out := *r
	return &out, nil
}

func (t *MemoryTracker) GetRunByUID(uid string) (*Run, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range t.runs {
		if r.UID == uid {
			out := *r
			return &out, nil
		}
	}
	return nil, fmt.Errorf("run %s not found", uid)
}

func (t *MemoryTracker) ListRuns(limit int) ([]Run, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	runs := make([]Run, 0, len(t.runs))
	for _, r := range t.runs {
		runs = append(runs, *r)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].ID > runs[j].ID })
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (t *MemoryTracker) ListTasksForRun(runID int64) ([]Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var tasks []Task
	for _, tk := range t.tasks {
		if tk.RunID == runID {
			tasks = append(tasks, *tk)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Idx < tasks[j].Idx })
	return tasks, nil
}

func (t *MemoryTracker) ListStepsForRun(runID int64) ([]RunStep, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var steps []RunStep
	for _, s := range t.steps {
		if s.RunID == runID {
			steps = append(steps, s)
		}
	}
	return steps, nil
}

// =============================================================================
// Pins and errors
// =============================================================================

func (t *MemoryTracker) UpsertPin(np NewPin) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := pinKey{runID: np.RunID, iden: np.Iden}
	if np.TaskID != nil {
		key.taskID = *np.TaskID
	}
	now := time.Now()
	if p, ok := t.pins[key]; ok {
		p.Priority = np.Priority
		p.Content = np.Content
		p.MTime = now
		return nil
	}
	t.pinSeq++
	t.pins[key] = &Pin{
		ID:       t.pinSeq,
		RunID:    np.RunID,
		TaskID:   np.TaskID,
		Iden:     np.Iden,
		Priority: np.Priority,
		Content:  np.Content,
		CTime:    now,
		MTime:    now,
	}
	return nil
}

func (t *MemoryTracker) ListPinsForRun(runID int64) ([]Pin, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pins []Pin
	for _, p := range t.pins {
		if p.RunID == runID {
			pins = append(pins, *p)
		}
	}
	sort.Slice(pins, func(i, j int) bool {
		if pins[i].Priority != pins[j].Priority {
			return pins[i].Priority > pins[j].Priority
		}
		return pins[i].ID < pins[j].ID
	})
	return pins, nil
}

func (t *MemoryTracker) GetErr(id string) (*ErrRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.errs[id]
	if !ok {
		return nil, fmt.Errorf("err record %s not found", id)
	}
	out := *e
	return &out, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (t *MemoryTracker) stepRun(runID int64, stage Stage, step, msg string, apply func(*Run, time.Time)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.runs[runID]
	if !ok {
		return fmt.Errorf("run %d not found", runID)
	}
	now := time.Now()
	apply(r, now)
	r.MTime = now
	t.appendStep(runID, nil, stage, step, msg, now)
	return nil
}

func (t *MemoryTracker) stepTask(taskID int64, stage Stage, step, msg string, apply func(*Task, time.Time)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, ok := t.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %d not found", taskID)
	}
	now := time.Now()
	apply(tk, now)
	tk.MTime = now
	t.appendStep(tk.RunID, &taskID, stage, step, msg, now)
	return nil
}

// appendStep must be called with the mutex held.
func (t *MemoryTracker) appendStep(runID int64, taskID *int64, stage Stage, step, msg string, now time.Time) {
	t.stepSeq++
	var tid *int64
	if taskID != nil {
		v := *taskID
		tid = &v
	}
	t.steps = append(t.steps, RunStep{
		ID:      t.stepSeq,
		RunID:   runID,
		TaskID:  tid,
		Stage:   stage,
		Step:    step,
		Message: msg,
		CTime:   now,
	})
}
