package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create or upgrade the storage schema",
	Long: `Create or upgrade the schema of the configured store.

For SurrealDB this defines tables and HNSW indexes sized to
AGENT_EMBED_DIMENSION. For Postgres it applies pending goose migrations.
Both are idempotent.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := openStore(cmd.Context(), true); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Schema ready (%s).\n", cfg.Store)
		return nil
	},
}
