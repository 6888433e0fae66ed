package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/documind/internal/app"
)

var ensureIndexCmd = &cobra.Command{
	Use:   "ensure-index",
	Short: "Create the vector collection and its document id index",
	Long: `Create the collection (Milvus) or table (pgvector) used for chunk vectors,
together with the scalar index on document id. Existing objects are left as they are.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := app.EnsureIndex(cmd.Context(), cfg); err != nil {
			return err
		}
		slog.Info("index ready", "backend", cfg.IndexBackend, "collection", cfg.CollectionName, "dimension", cfg.EmbedDim)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ensureIndexCmd)
}
