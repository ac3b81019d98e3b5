package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/template"

	"sortie/config"
	"sortie/script"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify that the configuration is valid",
	Long:  `Verify parses and validates the HCL configuration files, compiles every agent's stage scripts, and parses every prompt template. Path can be a file or directory.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadAndValidate(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if problems := checkAgents(cfg); len(problems) > 0 {
			for _, p := range problems {
				fmt.Fprintf(os.Stderr, "Error: %s\n", p)
			}
			os.Exit(1)
		}

		// Check for unset variables
		var warnings []string
		for i := range cfg.Variables {
			v := &cfg.Variables[i]
			resolved, _ := config.ResolveVariableValue(v)
			if resolved == "" && v.Default == "" {
				warnings = append(warnings, fmt.Sprintf("variable '%s' has no default and no value set", v.Name))
			}
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Found %d model(s)\n", len(cfg.Models))
		for _, m := range cfg.Models {
			key := "api key set"
			if m.APIKey == "" {
				key = "api key not set"
			}
			fmt.Printf("  - %s (provider: %s, model: %s, %s)\n", m.Name, m.Provider, m.ModelName, key)
		}
		fmt.Printf("Found %d variable(s)\n", len(cfg.Variables))
		for i := range cfg.Variables {
			v := &cfg.Variables[i]
			resolved, _ := config.ResolveVariableValue(v)
			if v.Secret {
				if resolved != "" {
					fmt.Printf("  - %s (secret, set)\n", v.Name)
				} else {
					fmt.Printf("  - %s (secret, not set)\n", v.Name)
				}
			} else {
				fmt.Printf("  - %s = %q\n", v.Name, resolved)
			}
		}
		if cfg.Storage != nil {
			fmt.Printf("Storage: %s\n", cfg.Storage.Backend)
		} else {
			fmt.Printf("Storage: sqlite (default)\n")
		}
		fmt.Printf("Found %d agent(s)\n", len(cfg.Agents))
		for i := range cfg.Agents {
			a := &cfg.Agents[i]
			var stages []string
			if a.HasBeforeAll() {
				stages = append(stages, "before_all")
			}
			if a.HasData() {
				stages = append(stages, "data")
			}
			if a.HasPrompt() {
				stages = append(stages, fmt.Sprintf("ai (%d prompt parts)", len(a.Prompts)))
			}
			if a.HasOutput() {
				stages = append(stages, "output")
			}
			if a.HasAfterAll() {
				stages = append(stages, "after_all")
			}
			stageInfo := "no stages"
			if len(stages) > 0 {
				stageInfo = strings.Join(stages, ", ")
			}
			fmt.Printf("  - %s (model: %s, concurrency: %d, %s)\n", a.Name, a.Model, a.Concurrency(), stageInfo)
		}

		if len(warnings) > 0 {
			fmt.Printf("\nWarnings:\n")
			for _, w := range warnings {
				fmt.Printf("  - %s\n", w)
			}
		}
	},
}

// checkAgents compiles every stage script and parses every prompt template
// without running anything.
func checkAgents(cfg *config.Config) []string {
	host := script.NewExprHost()
	var problems []string
	for i := range cfg.Agents {
		a := &cfg.Agents[i]
		stages := []struct {
			name   string
			source string
		}{
			{"before_all", a.BeforeAll},
			{"data", a.Data},
			{"output", a.Output},
			{"after_all", a.AfterAll},
		}
		for _, s := range stages {
			if strings.TrimSpace(s.source) == "" {
				continue
			}
			if err := host.Compile(s.source); err != nil {
				problems = append(problems, fmt.Sprintf("agent '%s' %s script: %v", a.Name, s.name, err))
			}
		}
		for j := range a.Prompts {
			p := &a.Prompts[j]
			if _, err := template.New(p.Kind).Funcs(verifyFuncs()).Parse(p.Content); err != nil {
				problems = append(problems, fmt.Sprintf("agent '%s' %s prompt: %v", a.Name, p.Kind, err))
			}
		}
	}
	return problems
}

// verifyFuncs mirrors the names available to prompt templates at render time
// so that parsing resolves them. The bodies are never executed here.
func verifyFuncs() template.FuncMap {
	return template.FuncMap{
		"json": func(any) string { return "" },
	}
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
