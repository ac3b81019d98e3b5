package store

import (
	"time"
)

// Stage identifies the lifecycle phase a step, error, or script belongs to.
type Stage string

const (
	StageRun       Stage = "run"
	StageBeforeAll Stage = "before_all"
	StageData      Stage = "data"
	StageAi        Stage = "ai"
	StageOutput    Stage = "output"
	StageAfterAll  Stage = "after_all"
)

// EndState is the terminal classification of a run or task.
// EndStateSkip applies to tasks only; a run never ends as Skip.
type EndState string

const (
	EndStateOk     EndState = "Ok"
	EndStateErr    EndState = "Err"
	EndStateCancel EndState = "Cancel"
	EndStateSkip   EndState = "Skip"
)

// Run is one top-level invocation of an agent over a batch of inputs.
type Run struct {
	ID          int64      `json:"id"`
	UID         string     `json:"uid"`
	ParentUID   *string    `json:"parentUid,omitempty"`
	AgentName   string     `json:"agentName"`
	AgentPath   string     `json:"agentPath,omitempty"`
	Model       string     `json:"model,omitempty"`
	Label       string     `json:"label,omitempty"`
	Concurrency int        `json:"concurrency"`
	TotalCost   float64    `json:"totalCost"`
	CTime       time.Time  `json:"ctime"`
	MTime       time.Time  `json:"mtime"`
	Start       *time.Time `json:"start,omitempty"`
	BAStart     *time.Time `json:"baStart,omitempty"`
	BAEnd       *time.Time `json:"baEnd,omitempty"`
	TasksStart  *time.Time `json:"tasksStart,omitempty"`
	TasksEnd    *time.Time `json:"tasksEnd,omitempty"`
	AAStart     *time.Time `json:"aaStart,omitempty"`
	AAEnd       *time.Time `json:"aaEnd,omitempty"`
	End         *time.Time `json:"end,omitempty"`
	EndState    *EndState  `json:"endState,omitempty"`
	EndErrID    *string    `json:"endErrId,omitempty"`
}

// Task is the processing of exactly one input through the per-input stages.
// Idx is the input's position in the resolved input list; the final outputs
// vector is ordered by it.
type Task struct {
	ID            int64      `json:"id"`
	UID           string     `json:"uid"`
	RunID         int64      `json:"runId"`
	Idx           int        `json:"idx"`
	Label         *string    `json:"label,omitempty"`
	ModelOv       *string    `json:"modelOv,omitempty"`
	InputContent  *string    `json:"inputContent,omitempty"`
	OutputContent *string    `json:"outputContent,omitempty"`
	Usage         TokenUsage `json:"usage"`
	Cost          float64    `json:"cost"`
	CTime         time.Time  `json:"ctime"`
	MTime         time.Time  `json:"mtime"`
	Start         *time.Time `json:"start,omitempty"`
	DataStart     *time.Time `json:"dataStart,omitempty"`
	DataEnd       *time.Time `json:"dataEnd,omitempty"`
	AiStart       *time.Time `json:"aiStart,omitempty"`
	AiEnd         *time.Time `json:"aiEnd,omitempty"`
	OutputStart   *time.Time `json:"outputStart,omitempty"`
	OutputEnd     *time.Time `json:"outputEnd,omitempty"`
	End           *time.Time `json:"end,omitempty"`
	EndState      *EndState  `json:"endState,omitempty"`
	EndErrID      *string    `json:"endErrId,omitempty"`
	EndSkipReason *string    `json:"endSkipReason,omitempty"`
}

// TokenUsage holds the per-task model usage counters. Prompt totals include
// cached and cache-creation tokens; completion totals include reasoning tokens.
type TokenUsage struct {
	PromptTotal         int64 `json:"tkPromptTotal"`
	PromptCached        int64 `json:"tkPromptCached"`
	PromptCacheCreation int64 `json:"tkPromptCacheCreation"`
	CompletionTotal     int64 `json:"tkCompletionTotal"`
	CompletionReasoning int64 `json:"tkCompletionReasoning"`
}

// RunStep is one entry of the append-only step log. Every step operation on the
// tracker writes its timestamp mutation and one RunStep as a single unit.
type RunStep struct {
	ID      int64     `json:"id"`
	RunID   int64     `json:"runId"`
	TaskID  *int64    `json:"taskId,omitempty"`
	Stage   Stage     `json:"stage"`
	Step    string    `json:"step"`
	Message string    `json:"message,omitempty"`
	CTime   time.Time `json:"ctime"`
}

// Pin is an upserted annotation attached to a run or to one of its tasks,
// keyed by (run, task, iden).
type Pin struct {
	ID       int64     `json:"id"`
	RunID    int64     `json:"runId"`
	TaskID   *int64    `json:"taskId,omitempty"`
	Iden     string    `json:"iden"`
	Priority float64   `json:"priority"`
	Content  string    `json:"content,omitempty"`
	CTime    time.Time `json:"ctime"`
	MTime    time.Time `json:"mtime"`
}

// ErrRecord is the immutable content of one terminal error. Its id is
// generated by the tracker before the conditional end-state write so that at
// most one record ever exists per ended run or task.
type ErrRecord struct {
	ID      string    `json:"id"`
	RunID   *int64    `json:"runId,omitempty"`
	TaskID  *int64    `json:"taskId,omitempty"`
	Stage   Stage     `json:"stage,omitempty"`
	Content string    `json:"content"`
	CTime   time.Time `json:"ctime"`
}

// NewRun carries the fields set when a run row is created.
type NewRun struct {
	AgentName   string
	AgentPath   string
	Model       string
	Label       string
	Concurrency int
	ParentUID   *string
}

// NewTask carries the fields set when a task row is created.
type NewTask struct {
	RunID        int64
	Idx          int
	Label        *string
	InputContent *string
}

// NewPin carries the upsert key and payload for a pin.
type NewPin struct {
	RunID    int64
	TaskID   *int64
	Iden     string
	Priority float64
	Content  string
}

// Tracker is the sole writer of persisted run state. Step operations update
// the entity's timestamp or state field and append one RunStep atomically.
//
// Idempotence: plain stage timestamps are overwritten on every call. End-state
// operations are first-write-wins, implemented as one conditional write guarded
// by end_state IS NULL; a losing caller refreshes only the end timestamp.
// StepRunEndErr/StepTaskEndErr return the id of the ErrRecord they created,
// or "" when an earlier caller already ended the entity.
type Tracker interface {
	// Run lifecycle
	CreateRun(nr NewRun) (*Run, error)
	StepRunStart(runID int64) error
	StepRunBAStart(runID int64) error
	StepRunBAEnd(runID int64) error
	StepRunTasksStart(runID int64) error
	StepRunTasksEnd(runID int64) error
	StepRunAAStart(runID int64) error
	StepRunAAEnd(runID int64) error
	StepRunEndOk(runID int64) error
	StepRunEndErr(runID int64, stage Stage, errContent string) (errID string, err error)
	SetRunModel(runID int64, model string) error
	AddRunCost(runID int64, delta float64) error

	// Task lifecycle
	CreateTask(nt NewTask) (*Task, error)
	StepTaskStart(taskID int64) error
	StepTaskDataStart(taskID int64) error
	StepTaskDataEnd(taskID int64) error
	StepTaskAiStart(taskID int64) error
	StepTaskAiEnd(taskID int64) error
	StepTaskOutputStart(taskID int64) error
	StepTaskOutputEnd(taskID int64) error
	StepTaskEndOk(taskID int64) error
	StepTaskEndErr(taskID int64, stage Stage, errContent string) (errID string, err error)
	StepTaskEndSkip(taskID int64, idx int, reason string) error
	SetTaskModelOv(taskID int64, model string) error
	SetTaskOutput(taskID int64, outputJSON string) error
	RecordTaskUsage(taskID int64, usage TokenUsage, cost float64) error

	// CancelAllNotEndedForRun marks every task of the run without an end state
	// as Cancel in one bulk conditional write and returns the number of tasks
	// it ended. Tasks already terminal keep their own ending.
	CancelAllNotEndedForRun(runID int64) (int64, error)

	// Reads
	GetRun(runID int64) (*Run, error)
	GetRunByUID(uid string) (*Run, error)
	ListRuns(limit int) ([]Run, error)
	ListTasksForRun(runID int64) ([]Task, error)
	ListStepsForRun(runID int64) ([]RunStep, error)

	// Pins and errors
	UpsertPin(np NewPin) error
	ListPinsForRun(runID int64) ([]Pin, error)
	GetErr(id string) (*ErrRecord, error)

	Close() error
}
