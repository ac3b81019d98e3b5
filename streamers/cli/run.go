package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"

	"sortie/store"
)

// RunHandler implements streamers.RunHandler for CLI output. Task events
// arrive from concurrent pipelines, so every print holds the mutex to
// keep lines whole.
type RunHandler struct {
	mu       sync.Mutex
	renderer *glamour.TermRenderer
	verbose  bool
}

// NewRunHandler creates a new CLI run handler. Verbose adds per-task
// start lines and run-scope stage markers.
func NewRunHandler(verbose bool) *RunHandler {
	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	return &RunHandler{renderer: renderer, verbose: verbose}
}

func (s *RunHandler) RunStarted(run *store.Run, inputCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Printf("\n%s%s=== Run: %s ===%s\n", ColorBold, ColorCyan, run.AgentName, ColorReset)
	fmt.Printf("%sRun ID: %s%s\n", ColorGray, run.UID, ColorReset)
	fmt.Printf("%sModel: %s | Inputs: %d | Concurrency: %d%s\n\n", ColorGray, run.Model, inputCount, run.Concurrency, ColorReset)
}

func (s *RunHandler) RunCompleted(run *store.Run, outputs []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Printf("\n%s%s=== Run completed ===%s\n", ColorBold, ColorGreen, ColorReset)
	if run.TotalCost > 0 {
		fmt.Printf("%sCost: $%.4f%s\n", ColorGray, run.TotalCost, ColorReset)
	}

	rendered := s.renderOutputs(outputs)
	if rendered != "" {
		fmt.Printf("\n%s\n", rendered)
	}
}

func (s *RunHandler) RunFailed(run *store.Run, stage store.Stage, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Printf("\n%s%s=== Run FAILED (%s): %v ===%s\n", ColorBold, ColorRed, stage, err, ColorReset)
}

func (s *RunHandler) BeforeAllStarted() {
	if !s.verbose {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Printf("%sRunning before_all...%s\n", ColorGray, ColorReset)
}

func (s *RunHandler) BeforeAllCompleted() {
	if !s.verbose {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Printf("%s✓%s before_all done\n", ColorGray, ColorReset)
}

func (s *RunHandler) TasksStarted(taskCount int, concurrency int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Printf("%sProcessing %d input(s)...%s\n", ColorGray, taskCount, ColorReset)
}

func (s *RunHandler) AfterAllStarted() {
	if !s.verbose {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Printf("%sRunning after_all...%s\n", ColorGray, ColorReset)
}

func (s *RunHandler) AfterAllCompleted() {
	if !s.verbose {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Printf("%s✓%s after_all done\n", ColorGray, ColorReset)
}

func (s *RunHandler) TaskStarted(idx int, input any) {
	if !s.verbose {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Printf("  [%d] Starting: %s%s%s\n", idx, ColorLightBrown, truncate(formatValue(input), 80), ColorReset)
}

func (s *RunHandler) TaskCompleted(idx int, output any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Printf("  [%d] %sCompleted%s %s%s%s\n", idx, ColorGreen, ColorReset, ColorGray, truncate(formatValue(output), 100), ColorReset)
}

func (s *RunHandler) TaskSkipped(idx int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reason == "" {
		fmt.Printf("  [%d] %sSkipped%s\n", idx, ColorOrange, ColorReset)
		return
	}
	fmt.Printf("  [%d] %sSkipped%s: %s\n", idx, ColorOrange, ColorReset, reason)
}

func (s *RunHandler) TaskFailed(idx int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Printf("  [%d] %sFAILED%s: %v\n", idx, ColorRed, ColorReset, err)
}

func (s *RunHandler) PinUpserted(pin store.NewPin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Printf("  %s• pin [%s] %s%s\n", ColorGray, pin.Iden, truncate(pin.Content, 60), ColorReset)
}

// renderOutputs builds one markdown document from the outputs vector and
// renders it through glamour. Must be called with the mutex held.
func (s *RunHandler) renderOutputs(outputs []any) string {
	if len(outputs) == 0 {
		return ""
	}

	var md strings.Builder
	md.WriteString("## Outputs\n\n")
	for i, out := range outputs {
		if len(outputs) > 1 {
			fmt.Fprintf(&md, "**[%d]**\n\n", i)
		}
		md.WriteString(formatValue(out))
		md.WriteString("\n\n")
	}

	rendered := md.String()
	if s.renderer != nil {
		if out, err := s.renderer.Render(rendered); err == nil {
			rendered = out
		}
	}
	return strings.TrimSpace(rendered)
}

// formatValue renders a script value for display: strings as-is,
// everything else as JSON.
func formatValue(v any) string {
	switch s := v.(type) {
	case nil:
		return "null"
	case string:
		return s
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// truncate shortens a string to max length, adding ellipsis if needed
func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
