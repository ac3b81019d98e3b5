package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"sortie/config"
	"sortie/store"
)

var listLimit int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	Long:  `List the most recent runs recorded in storage, newest first.`,
	Run: func(cmd *cobra.Command, args []string) {
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

		runs, err := tracker.ListRuns(listLimit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded")
			return
		}

		fmt.Printf("%-36s  %-16s  %-8s  %5s  %9s  %9s\n", "UID", "AGENT", "STATE", "TASKS", "COST", "ELAPSED")
		for _, r := range runs {
			tasks, err := tracker.ListTasksForRun(r.ID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%-36s  %-16s  %-8s  %5d  %9s  %9s\n",
				r.UID, r.AgentName, runState(&r), len(tasks),
				fmt.Sprintf("$%.4f", r.TotalCost), runElapsed(&r))
		}
	},
}

func runState(r *store.Run) string {
	if r.EndState == nil {
		return "running"
	}
	return string(*r.EndState)
}

func runElapsed(r *store.Run) string {
	if r.Start == nil {
		return "-"
	}
	end := time.Now()
	if r.End != nil {
		end = *r.End
	}
	return end.Sub(*r.Start).Round(time.Millisecond).String()
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVarP(&configPath, "config", "c", ".", "Path to config file or directory")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum number of runs to list")
}
