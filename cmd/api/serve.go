package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/documind/internal/app"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and ingestion workers",
	Long: `Start the HTTP API together with the ingestion workers.

SIGINT or SIGTERM stops accepting requests, drains in-flight ones, then stops
the workers. Jobs interrupted on a durable queue are picked up on the next start.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("port", "", "HTTP port (overrides PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}

	ctx := cmd.Context()
	application, err := app.NewApp(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		return err
	}

	// workers outlive the signal so requests drained during shutdown can still enqueue
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	application.StartWorkers(workerCtx)

	serveErr := make(chan error, 1)
	go func() { serveErr <- application.Server.Start() }()
	slog.Info("documind is running", "version", app.Version, "port", cfg.Port)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err = <-serveErr:
		if err != nil {
			slog.Error("server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := application.Server.Shutdown(shutdownCtx); serr != nil {
		err = errors.Join(err, serr)
	}

	stopWorkers()
	if cerr := application.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	slog.Info("shutdown complete")
	return err
}
