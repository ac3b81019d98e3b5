package wsbridge

import (
	"encoding/json"
	"sync"

	"github.com/hashicorp/go-hclog"

	"sortie/store"
	"sortie/streamers"
)

// Streamer implements streamers.RunHandler by broadcasting run events to
// every connected WebSocket client. It is safe to use from concurrent task
// goroutines.
type Streamer struct {
	logger hclog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

var _ streamers.RunHandler = (*Streamer)(nil)

// NewStreamer creates a Streamer with no connected clients.
func NewStreamer(logger hclog.Logger) *Streamer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Streamer{
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

func (s *Streamer) register(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	s.logger.Debug("client connected", "clients", n)
}

func (s *Streamer) unregister(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	n := len(s.clients)
	s.mu.Unlock()
	s.logger.Debug("client disconnected", "clients", n)
}

// ClientCount returns the number of connected clients.
func (s *Streamer) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Broadcast marshals the event once and queues it on every client. Clients
// whose send buffer is full are dropped rather than allowed to stall the run.
func (s *Streamer) Broadcast(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("marshal event", "type", ev.Type, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			delete(s.clients, c)
			close(c.send)
			s.logger.Warn("dropping slow client")
		}
	}
}

func (s *Streamer) sendEvent(eventType string, data any) {
	s.Broadcast(newEvent(eventType, data))
}

// =============================================================================
// RunHandler implementation
// =============================================================================

func (s *Streamer) RunStarted(run *store.Run, inputCount int) {
	s.sendEvent(EventRunStarted, runStartedData(run, inputCount))
}

func (s *Streamer) RunCompleted(run *store.Run, outputs []any) {
	s.sendEvent(EventRunCompleted, RunCompletedData{
		RunUID:    run.UID,
		TotalCost: run.TotalCost,
		Outputs:   outputs,
	})
}

func (s *Streamer) RunFailed(run *store.Run, stage store.Stage, err error) {
	s.sendEvent(EventRunFailed, RunFailedData{
		RunUID: run.UID,
		Stage:  string(stage),
		Error:  err.Error(),
	})
}

func (s *Streamer) BeforeAllStarted() {
	s.sendEvent(EventBeforeAllStarted, nil)
}

func (s *Streamer) BeforeAllCompleted() {
	s.sendEvent(EventBeforeAllCompleted, nil)
}

func (s *Streamer) TasksStarted(taskCount int, concurrency int) {
	s.sendEvent(EventTasksStarted, TasksStartedData{
		TaskCount:   taskCount,
		Concurrency: concurrency,
	})
}

func (s *Streamer) AfterAllStarted() {
	s.sendEvent(EventAfterAllStarted, nil)
}

func (s *Streamer) AfterAllCompleted() {
	s.sendEvent(EventAfterAllCompleted, nil)
}

func (s *Streamer) TaskStarted(idx int, input any) {
	s.sendEvent(EventTaskStarted, TaskStartedData{Idx: idx, Input: input})
}

func (s *Streamer) TaskCompleted(idx int, output any) {
	s.sendEvent(EventTaskCompleted, TaskCompletedData{Idx: idx, Output: output})
}

func (s *Streamer) TaskSkipped(idx int, reason string) {
	s.sendEvent(EventTaskSkipped, TaskSkippedData{Idx: idx, Reason: reason})
}

func (s *Streamer) TaskFailed(idx int, err error) {
	s.sendEvent(EventTaskFailed, TaskFailedData{Idx: idx, Error: err.Error()})
}

func (s *Streamer) PinUpserted(pin store.NewPin) {
	s.sendEvent(EventPinUpserted, PinUpsertedData{
		Iden:       pin.Iden,
		Priority:   pin.Priority,
		Content:    pin.Content,
		TaskScoped: pin.TaskID != nil,
	})
}
