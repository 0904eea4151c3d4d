// Package cli provides the command-line interface for socialagent.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/socialagent/internal/config"
	"github.com/raphaelgruber/socialagent/internal/db"
	"github.com/raphaelgruber/socialagent/internal/db/pg"
	"github.com/raphaelgruber/socialagent/internal/metrics"
	"github.com/raphaelgruber/socialagent/internal/storage"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Set up once per invocation in PersistentPreRunE
	cfg         config.Config
	logger      *slog.Logger
	closeLogger func() error
	collector   *metrics.Collector

	// Opened lazily by commands that need storage
	store storage.Store
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "socialagent",
	Short: "Autonomous social media agent",
	Long: `socialagent runs scheduled jobs against a social network: it posts,
quotes and cheers followed accounts, answers airdrop requests with on-chain
transfers, and remembers every conversation for later retrieval.

Configuration comes from the environment, job definitions from a YAML file.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, closeLogger = config.SetupLogger(cfg.LogFile, level)
		slog.SetDefault(logger)
		collector = metrics.NewCollector()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			if err := store.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
			}
			store = nil
		}
		if closeLogger != nil {
			_ = closeLogger()
		}
	},
}

// openStore connects the configured backend. With migrate set the schema is
// created or upgraded first.
func openStore(ctx context.Context, migrate bool) (storage.Store, error) {
	switch cfg.Store {
	case config.StoreSurreal:
		client, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to surrealdb: %w", err)
		}
		if migrate {
			if err := client.InitSchema(ctx, cfg.EmbedDimension); err != nil {
				_ = client.Close(ctx)
				return nil, fmt.Errorf("initialize schema: %w", err)
			}
		}
		store = db.NewStore(client, collector)
	case config.StorePostgres:
		s, err := pg.Open(ctx, pg.Config{URL: cfg.DatabaseURL}, collector)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if migrate {
			if err := s.Migrate(ctx); err != nil {
				_ = s.Close()
				return nil, err
			}
		}
		store = s
	default:
		return nil, fmt.Errorf("unknown store %q (want %s or %s)", cfg.Store, config.StoreSurreal, config.StorePostgres)
	}
	return store, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(embedCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(followersCmd)
	rootCmd.AddCommand(ingestCmd)
}
