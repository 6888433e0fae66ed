package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/documind/internal/api/mcp"
	"github.com/markdave123-py/documind/internal/app"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server over stdio",
	Long: `Start the Model Context Protocol server for AI assistant integration.

The server speaks JSON-RPC over stdio and exposes list_documents,
document_status, search_documents and ask_document. Ingestion workers run in
the same process. Use --http to also serve the HTTP API so documents can be
uploaded while the assistant is connected; logs always go to stderr.

Example configuration:
  {
    "mcpServers": {
      "documind": {
        "command": "/path/to/documind",
        "args": ["mcp", "--http"]
      }
    }
  }`,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().Bool("http", false, "also serve the HTTP API")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	withHTTP, err := cmd.Flags().GetBool("http")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	application, err := app.NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	application.StartWorkers(ctx)

	if withHTTP {
		go func() {
			if err := application.Server.Start(); err != nil {
				slog.Error("server error", "error", err)
			}
		}()
	}

	server, err := mcp.NewServer(app.Version, application.Documents, application.Engine)
	if err != nil {
		cancel()
		return errors.Join(err, application.Close())
	}
	err = server.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	if withHTTP {
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		err = errors.Join(err, application.Server.Shutdown(shutdownCtx))
	}
	cancel()
	return errors.Join(err, application.Close())
}
