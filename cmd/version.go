package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("{{.Version}}\n")
	rootCmd.Long = fmt.Sprintf(`Sortie %s

HCL-based CLI for defining and running multi-stage agents over batches of inputs.

Define models and agents in HCL configuration files, then run an agent
across its inputs with bounded concurrency. Every run is recorded to
storage with per-task state, token usage, and cost.

Get started:
  sortie verify <path>     Validate your configuration
  sortie run <agent>       Run an agent over inputs
  sortie list              List recent runs
  sortie show <run-uid>    Inspect one run`, Version)
}
