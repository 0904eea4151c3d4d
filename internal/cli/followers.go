package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/socialagent/internal/jobs"
)

var followersCmd = &cobra.Command{
	Use:   "sync-followers",
	Short: "Snapshot the agent's followers for airdrop eligibility",
	Long: `Page through the followers of X_OWN_ID and store one follow record per
account. Airdrops are only sent to accounts present in this snapshot.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if cfg.OwnID == "" {
			return errors.New("X_OWN_ID is not set")
		}
		s, err := openStore(ctx, true)
		if err != nil {
			return err
		}
		socialClient := newSocialClient(ctx, cfg.DryRun)
		defer socialClient.Close()

		n, err := jobs.SyncFollowers(ctx, jobs.Deps{Store: s, Social: socialClient, Logger: logger}, cfg.OwnID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Synced %d followers.\n", n)
		return nil
	},
}
