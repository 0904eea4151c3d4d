package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/socialagent/internal/llm"
	"github.com/raphaelgruber/socialagent/internal/rerank"
)

var (
	searchLimit     int
	searchAuthor    string
	searchThreshold float64
	searchRecency   float64
	searchDocsOnly  bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Rank stored chats and knowledge for a query",
	Long: `Embed the query, search chat histories and document chunks, and print
the fused ranking. Scores blend cosine similarity with recency.

Examples:
  socialagent search "staking rewards"
  socialagent search "gm" --author 12345 --recency 0.7
  socialagent search "gas fees" --docs --limit 10`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStore(ctx, false)
		if err != nil {
			return err
		}
		embedder, err := llm.NewEmbedder(cfg, collector)
		if err != nil {
			return fmt.Errorf("init embedder: %w", err)
		}

		opts := rerank.DefaultOptions()
		opts.TopK = searchLimit
		opts.ScoreThreshold = searchThreshold
		if searchRecency >= 0 {
			opts.Weight = rerank.Weight{Distance: 1 - searchRecency, Recency: searchRecency}
		}
		sources := []rerank.Source{rerank.DocumentSource(nil)}
		if !searchDocsOnly {
			sources = append(sources, rerank.ChatSource(searchAuthor))
		}

		results, err := rerank.Rerank(ctx, embedder, s, args[0], sources, opts)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(results) == 0 {
			fmt.Fprintln(out, "No results found.")
			return nil
		}
		fmt.Fprintf(out, "Found %d results:\n\n", len(results))
		for i, r := range results {
			fmt.Fprintf(out, "%d. [%s] %.3f  %s\n", i+1, r.Source, r.Score, truncate(r.Text, 100))
			if verbose {
				fmt.Fprintf(out, "   distance=%.4f updated=%s\n", r.Distance, r.UpdatedAt.Format("2006-01-02 15:04"))
			}
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 5, "max results")
	searchCmd.Flags().StringVar(&searchAuthor, "author", "", "only chats by this author id")
	searchCmd.Flags().Float64Var(&searchThreshold, "threshold", rerank.DefaultOptions().ScoreThreshold, "minimum score")
	searchCmd.Flags().Float64Var(&searchRecency, "recency", -1, "recency weight in [0,1] (default 0.3)")
	searchCmd.Flags().BoolVar(&searchDocsOnly, "docs", false, "search documents only")
}

// truncate shortens s to n runes, adding "..." if truncated.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
