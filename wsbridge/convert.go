package wsbridge

import (
	"time"

	"sortie/store"
)

// Event types broadcast to connected clients, one per run lifecycle
// notification.
const (
	EventRunStarted         = "run_started"
	EventRunCompleted       = "run_completed"
	EventRunFailed          = "run_failed"
	EventBeforeAllStarted   = "before_all_started"
	EventBeforeAllCompleted = "before_all_completed"
	EventTasksStarted       = "tasks_started"
	EventAfterAllStarted    = "after_all_started"
	EventAfterAllCompleted  = "after_all_completed"
	EventTaskStarted        = "task_started"
	EventTaskCompleted      = "task_completed"
	EventTaskSkipped        = "task_skipped"
	EventTaskFailed         = "task_failed"
	EventPinUpserted        = "pin_upserted"
)

// Event is the wire envelope for one notification.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

func newEvent(eventType string, data any) Event {
	return Event{Type: eventType, Time: time.Now().UTC(), Data: data}
}

type RunStartedData struct {
	RunUID      string `json:"runUid"`
	AgentName   string `json:"agentName"`
	Model       string `json:"model,omitempty"`
	Label       string `json:"label,omitempty"`
	InputCount  int    `json:"inputCount"`
	Concurrency int    `json:"concurrency"`
}

type RunCompletedData struct {
	RunUID    string  `json:"runUid"`
	TotalCost float64 `json:"totalCost"`
	Outputs   []any   `json:"outputs"`
}

type RunFailedData struct {
	RunUID string `json:"runUid"`
	Stage  string `json:"stage"`
	Error  string `json:"error"`
}

type TasksStartedData struct {
	TaskCount   int `json:"taskCount"`
	Concurrency int `json:"concurrency"`
}

type TaskStartedData struct {
	Idx   int `json:"idx"`
	Input any `json:"input,omitempty"`
}

type TaskCompletedData struct {
	Idx    int `json:"idx"`
	Output any `json:"output,omitempty"`
}

type TaskSkippedData struct {
	Idx    int    `json:"idx"`
	Reason string `json:"reason,omitempty"`
}

type TaskFailedData struct {
	Idx   int    `json:"idx"`
	Error string `json:"error"`
}

type PinUpsertedData struct {
	Iden       string  `json:"iden"`
	Priority   float64 `json:"priority"`
	Content    string  `json:"content,omitempty"`
	TaskScoped bool    `json:"taskScoped"`
}

func runStartedData(run *store.Run, inputCount int) RunStartedData {
	return RunStartedData{
		RunUID:      run.UID,
		AgentName:   run.AgentName,
		Model:       run.Model,
		Label:       run.Label,
		InputCount:  inputCount,
		Concurrency: run.Concurrency,
	}
}
