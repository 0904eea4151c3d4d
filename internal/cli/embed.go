package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/socialagent/internal/llm"
)

var embedCmd = &cobra.Command{
	Use:   "embed <text>",
	Short: "Embed text and print the vector dimension",
	Long: `Embed text with the configured provider. Useful to check that the
embedding model is reachable and matches AGENT_EMBED_DIMENSION.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		embedder, err := llm.NewEmbedder(cfg, collector)
		if err != nil {
			return fmt.Errorf("init embedder: %w", err)
		}
		vec, err := embedder.Embed(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "model: %s\n", embedder.Model())
		fmt.Fprintf(out, "dimension: %d\n", len(vec))
		if len(vec) != cfg.EmbedDimension {
			fmt.Fprintf(out, "warning: configured dimension is %d\n", cfg.EmbedDimension)
		}
		if verbose && len(vec) > 0 {
			fmt.Fprintf(out, "head: %v\n", vec[:min(8, len(vec))])
		}
		return nil
	},
}
