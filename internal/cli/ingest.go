package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/socialagent/internal/knowledge"
	"github.com/raphaelgruber/socialagent/internal/llm"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.md>...",
	Short: "Add Markdown documents to the knowledge base",
	Long: `Parse Markdown files, split them into chunks, embed the chunks and store
them as knowledge the jobs draw on. Frontmatter scalars (e.g. lang: en)
become chunk metadata. Ingesting a file again overwrites its chunks.

Examples:
  socialagent ingest docs/tokenomics.md
  socialagent ingest notes/*.md`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStore(ctx, true)
		if err != nil {
			return err
		}
		embedder, err := llm.NewEmbedder(cfg, collector)
		if err != nil {
			return fmt.Errorf("init embedder: %w", err)
		}
		in := knowledge.NewIngester(s, embedder, logger)

		out := cmd.OutOrStdout()
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			res, err := in.Ingest(ctx, path, string(data))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %q, %d chunks\n", path, res.Document.Title, res.Chunks)
		}
		return nil
	},
}
