package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/documind/internal/app"
	"github.com/markdave123-py/documind/internal/config"
	"github.com/markdave123-py/documind/internal/logger"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "documind",
	Short: "Chat with your PDF documents",
	Long: `DocuMind ingests uploaded documents into a vector index and answers
questions grounded in their content.

Running without a subcommand starts the HTTP API.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("documind version %s\n", app.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file (overrides CONFIG_FILE)")
	rootCmd.Flags().String("port", "", "HTTP port (overrides PORT)")
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the configuration and installs the process logger.
func loadConfig() (*config.Config, error) {
	if configFile != "" {
		if err := os.Setenv("CONFIG_FILE", configFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Setup(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
