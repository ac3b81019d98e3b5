package run

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"sortie/llm"
	"sortie/store"
)

// debugLog captures stage results and model exchanges when a debug
// directory is configured. A logger built without a directory swallows
// every call, so the pipeline never guards.
type debugLog struct {
	dir        string
	eventsFile *os.File
	mu         sync.Mutex
	enabled    bool
}

func newDebugLog(dir string) (*debugLog, error) {
	if dir == "" {
		return &debugLog{}, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating debug directory: %w", err)
	}

	eventsFile, err := os.Create(filepath.Join(dir, "events.log"))
	if err != nil {
		return nil, fmt.Errorf("creating events file: %w", err)
	}

	return &debugLog{dir: dir, eventsFile: eventsFile, enabled: true}, nil
}

func (d *debugLog) Close() {
	if !d.enabled {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.eventsFile.Close()
}

// Event appends one JSON line to events.log.
func (d *debugLog) Event(event string, data map[string]any) {
	if !d.enabled {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	entry := map[string]any{
		"timestamp": time.Now().Format(time.RFC3339Nano),
		"event":     event,
	}
	for k, v := range data {
		entry[k] = v
	}

	b, err := json.Marshal(entry)
	if err != nil {
		return
	}
	d.eventsFile.WriteString(string(b) + "\n")
}

// StageResult records a stage script's return value for one task.
func (d *debugLog) StageResult(idx int, stage store.Stage, value any) {
	d.Event("stage_result", map[string]any{
		"idx":   idx,
		"stage": string(stage),
		"value": value,
	})
}

// Chat writes one request/response exchange as markdown, one file per
// task, and a usage line to events.log.
func (d *debugLog) Chat(idx int, req *llm.ChatRequest, resp *llm.ChatResponse) {
	if !d.enabled {
		return
	}

	path := filepath.Join(d.dir, fmt.Sprintf("task_%d_chat.md", idx))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	timestamp := time.Now().Format("15:04:05")
	fmt.Fprintf(f, "## [%s] Request (%s)\n\n", timestamp, req.Model)
	for _, part := range req.System {
		fmt.Fprintf(f, "### System\n\n```\n%s\n```\n\n", part.Text)
	}
	for _, msg := range req.Messages {
		fmt.Fprintf(f, "### %s\n\n```\n%s\n```\n\n", msg.Role, msg.Content)
	}
	fmt.Fprintf(f, "## [%s] Response (%s)\n\n%s\n\n", timestamp, resp.Model, resp.Content)

	d.Event("model_call", map[string]any{
		"idx":           idx,
		"model":         req.Model,
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
	})
}
