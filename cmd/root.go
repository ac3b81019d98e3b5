package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sortie",
	Short: "Sortie runs declarative multi-stage agents",
	Long:  `Sortie is a command-line tool for running HCL-defined agents over batches of inputs.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Welcome to Sortie! Use --help to see available commands.")
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
