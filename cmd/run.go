package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"sortie/config"
	"sortie/run"
	"sortie/store"
	"sortie/streamers"
	"sortie/streamers/cli"
	"sortie/wsbridge"
)

var configPath string
var inputFlags []string
var inputFile string
var modelOverride string
var concurrencyOverride int
var runLabel string
var runDebugMode bool
var runVerbose bool
var serveAddr string

var runCmd = &cobra.Command{
	Use:   "run [agent_name]",
	Short: "Run an agent over a batch of inputs",
	Long: `Execute an agent by name. Each --input becomes one task; values parse as
JSON when they can and fall back to plain strings. With no inputs the agent
runs once with a null input.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		agentName := args[0]
		ctx := context.Background()

		cfg, err := config.LoadAndValidate(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		agent := cfg.FindAgent(agentName)
		if agent == nil {
			fmt.Fprintf(os.Stderr, "Error: no agent named '%s' in config\n", agentName)
			os.Exit(1)
		}

		inputs, err := collectInputs(inputFlags, inputFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing inputs: %v\n", err)
			os.Exit(1)
		}

		tracker, err := openTracker(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening storage: %v\n", err)
			os.Exit(1)
		}
		defer tracker.Close()

		level := hclog.Warn
		if runVerbose {
			level = hclog.Debug
		}
		logger := hclog.New(&hclog.LoggerOptions{
			Name:   "sortie",
			Output: os.Stderr,
			Level:  level,
		})

		var handler streamers.RunHandler = cli.NewRunHandler(runVerbose)
		if serveAddr != "" {
			streamer := wsbridge.NewStreamer(logger.Named("wsbridge"))
			httpSrv := &http.Server{
				Addr:    serveAddr,
				Handler: wsbridge.NewServer(streamer, tracker, logger.Named("wsbridge")).Routes(),
			}
			go func() {
				if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("event server stopped", "error", err)
				}
			}()
			defer httpSrv.Shutdown(context.Background())
			handler = streamers.NewMulti(handler, streamer)
			fmt.Printf("Event stream on ws://%s/ws\n", serveAddr)
		}

		var debugDir string
		if runDebugMode {
			debugDir = filepath.Join("debug", fmt.Sprintf("%s_%s", agentName, time.Now().Format("20060102_150405")))
			fmt.Printf("Debug mode enabled. Writing to: %s\n", debugDir)
		}

		opts := []run.Option{
			run.WithHandler(handler),
			run.WithLogger(logger),
			run.WithDebugDir(debugDir),
		}
		if modelOverride != "" {
			opts = append(opts, run.WithModel(modelOverride))
		}
		if concurrencyOverride > 0 {
			opts = append(opts, run.WithConcurrency(concurrencyOverride))
		}
		if runLabel != "" {
			opts = append(opts, run.WithLabel(runLabel))
		}

		orch := run.New(cfg, agent, tracker, opts...)
		if _, err := orch.Execute(ctx, inputs); err != nil {
			fmt.Fprintf(os.Stderr, "\nRun failed: %v\n", err)
			os.Exit(1)
		}
	},
}

// collectInputs merges --input flags and the --input-file contents, in that
// order, into the run's input list.
func collectInputs(flags []string, file string) ([]any, error) {
	var inputs []any
	for _, raw := range flags {
		inputs = append(inputs, parseInput(raw))
	}
	if file != "" {
		fromFile, err := readInputFile(file)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, fromFile...)
	}
	return inputs, nil
}

// parseInput decodes the value as JSON when it parses and keeps it as a plain
// string otherwise, so --input '{"a":1}' and --input hello both work.
func parseInput(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// readInputFile reads inputs from a file holding either one JSON array or one
// value per line.
func readInputFile(path string) ([]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var arr []any
		if err := json.Unmarshal([]byte(trimmed), &arr); err != nil {
			return nil, fmt.Errorf("input file %s: %w", path, err)
		}
		return arr, nil
	}
	var inputs []any
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		inputs = append(inputs, parseInput(line))
	}
	return inputs, nil
}

func openTracker(cfg *config.Config) (store.Tracker, error) {
	storage := cfg.Storage
	if storage == nil {
		storage = &config.StorageConfig{}
	}
	storage.Defaults()
	return store.NewTracker(storage)
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&configPath, "config", "c", ".", "Path to config file or directory")
	runCmd.Flags().StringArrayVarP(&inputFlags, "input", "i", nil, "Task input, JSON or plain string (can be repeated)")
	runCmd.Flags().StringVar(&inputFile, "input-file", "", "File with inputs: a JSON array, or one value per line")
	runCmd.Flags().StringVarP(&modelOverride, "model", "m", "", "Override the agent's model for this run")
	runCmd.Flags().IntVar(&concurrencyOverride, "concurrency", 0, "Override the agent's input concurrency")
	runCmd.Flags().StringVarP(&runLabel, "label", "l", "", "Label stored on the run")
	runCmd.Flags().BoolVarP(&runDebugMode, "debug", "d", false, "Capture stage results and model messages to a debug directory")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print per-stage progress")
	runCmd.Flags().StringVar(&serveAddr, "serve", "", "Also serve the live event stream and run API on this address (e.g. :8787)")
}
