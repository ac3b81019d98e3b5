package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"sortie/config"
	"sortie/store"
)

var showSteps bool
var showPins bool

var showCmd = &cobra.Command{
	Use:   "show [run_uid]",
	Short: "Show one run in detail",
	Long:  `Show a run's tasks and end states. Use --steps for the full step log and --pins for pinned annotations.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		uid := args[0]

		cfg, err := config.LoadAndValidate(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		tracker, err := openTracker(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening storage: %v\n", err)
			os.Exit(1)
		}
		defer tracker.Close()

		r, err := tracker.GetRunByUID(uid)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Run %s (%s)\n", r.UID, r.AgentName)
		fmt.Printf("  state:   %s\n", runState(r))
		if r.Model != "" {
			fmt.Printf("  model:   %s\n", r.Model)
		}
		if r.Label != "" {
			fmt.Printf("  label:   %s\n", r.Label)
		}
		if r.ParentUID != nil {
			fmt.Printf("  parent:  %s\n", *r.ParentUID)
		}
		fmt.Printf("  cost:    $%.4f\n", r.TotalCost)
		fmt.Printf("  elapsed: %s\n", runElapsed(r))
		if r.EndErrID != nil {
			if rec, err := tracker.GetErr(*r.EndErrID); err == nil && rec != nil {
				fmt.Printf("  error:   [%s] %s\n", rec.Stage, rec.Content)
			}
		}

		tasks, err := tracker.ListTasksForRun(r.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nTasks (%d):\n", len(tasks))
		for _, t := range tasks {
			printTask(tracker, &t)
		}

		if showSteps {
			steps, err := tracker.ListStepsForRun(r.ID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("\nSteps (%d):\n", len(steps))
			for _, s := range steps {
				line := fmt.Sprintf("  %s  %-10s %-18s", s.CTime.Format("15:04:05.000"), s.Stage, s.Step)
				if s.Message != "" {
					line += "  " + s.Message
				}
				fmt.Println(line)
			}
		}

		if showPins {
			pins, err := tracker.ListPinsForRun(r.ID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("\nPins (%d):\n", len(pins))
			for _, p := range pins {
				scope := "run"
				if p.TaskID != nil {
					scope = fmt.Sprintf("task %d", *p.TaskID)
				}
				fmt.Printf("  [%.1f] %s: %s  (%s)\n", p.Priority, p.Iden, preview(p.Content, 60), scope)
			}
		}
	},
}

func printTask(tracker store.Tracker, t *store.Task) {
	state := "running"
	if t.EndState != nil {
		state = string(*t.EndState)
	}
	line := fmt.Sprintf("  [%d] %-7s", t.Idx, state)
	if t.Cost > 0 {
		line += fmt.Sprintf("  $%.4f", t.Cost)
	}
	switch {
	case t.EndSkipReason != nil && *t.EndSkipReason != "":
		line += fmt.Sprintf("  (%s)", *t.EndSkipReason)
	case t.EndErrID != nil:
		if rec, err := tracker.GetErr(*t.EndErrID); err == nil && rec != nil {
			line += fmt.Sprintf("  [%s] %s", rec.Stage, preview(rec.Content, 80))
		}
	case t.OutputContent != nil:
		line += "  " + preview(*t.OutputContent, 80)
	}
	fmt.Println(line)
}

func preview(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().StringVarP(&configPath, "config", "c", ".", "Path to config file or directory")
	showCmd.Flags().BoolVar(&showSteps, "steps", false, "Include the full step log")
	showCmd.Flags().BoolVar(&showPins, "pins", false, "Include pinned annotations")
}
