package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"sortie/config"
	"sortie/wsbridge"
)

var serveBindAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve run history and the live event stream",
	Long: `Start a long-running HTTP server exposing recorded runs under /api/runs and
a WebSocket event stream at /ws. Runs started in this process broadcast their
events to connected clients; runs from other processes appear in the API once
they are written to shared storage.`,
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

		logger := hclog.New(&hclog.LoggerOptions{
			Name:   "sortie",
			Output: os.Stderr,
			Level:  hclog.Info,
		})

		streamer := wsbridge.NewStreamer(logger.Named("wsbridge"))
		server := wsbridge.NewServer(streamer, tracker, logger.Named("wsbridge"))
		httpSrv := &http.Server{Addr: serveBindAddr, Handler: server.Routes()}

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

		go func() {
			fmt.Printf("Serving on http://%s (event stream at /ws)\n", serveBindAddr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				stop <- syscall.SIGTERM
			}
		}()

		<-stop
		fmt.Println("\nShutting down...")
		httpSrv.Shutdown(context.Background())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&configPath, "config", "c", ".", "Path to config file or directory")
	serveCmd.Flags().StringVar(&serveBindAddr, "addr", ":8787", "Address to bind the server to")
}
