package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/socialagent/internal/chain"
	"github.com/raphaelgruber/socialagent/internal/config"
	"github.com/raphaelgruber/socialagent/internal/jobs"
	"github.com/raphaelgruber/socialagent/internal/knowledge"
	"github.com/raphaelgruber/socialagent/internal/llm"
	"github.com/raphaelgruber/socialagent/internal/memory"
	"github.com/raphaelgruber/socialagent/internal/scheduler"
	"github.com/raphaelgruber/socialagent/internal/server"
	"github.com/raphaelgruber/socialagent/internal/social"
)

var (
	agentJobsFile    string
	agentStatusAddr  string
	agentDryRun      bool
	agentPersonality string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the scheduled jobs until interrupted",
	Long: `Run every enabled job from the job file on its interval.

SIGINT or SIGTERM closes the scheduler: the running job finishes (or is
cut off after AGENT_FORCE_TIMEOUT) and pending social calls are refused.

In dry-run mode posts and transfers go to in-memory fakes, while storage
and the language model are real.

Examples:
  socialagent agent
  socialagent agent --jobs jobs.yaml --status-addr :8484
  socialagent agent --dry-run -v`,
	Args: cobra.NoArgs,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().StringVarP(&agentJobsFile, "jobs", "j", "", "job definitions file (default $AGENT_JOBS_FILE)")
	agentCmd.Flags().StringVar(&agentStatusAddr, "status-addr", "", "serve /health and /stats on this address (default $AGENT_STATUS_ADDR)")
	agentCmd.Flags().BoolVar(&agentDryRun, "dry-run", false, "use fake social and chain clients")
	agentCmd.Flags().StringVar(&agentPersonality, "personality", "", "override the agent's personality prompt")
}

func runAgent(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	jobsFile := cfg.JobsFile
	if agentJobsFile != "" {
		jobsFile = agentJobsFile
	}
	defs, err := config.LoadJobs(jobsFile)
	if err != nil {
		return err
	}

	policy, err := scheduler.ParsePolicy(cfg.ShutdownPolicy)
	if err != nil {
		return err
	}

	s, err := openStore(ctx, true)
	if err != nil {
		return err
	}

	embedder, err := llm.NewEmbedder(cfg, collector)
	if err != nil {
		return fmt.Errorf("init embedder: %w", err)
	}
	model, err := llm.NewModel(cfg, collector)
	if err != nil {
		return fmt.Errorf("init model: %w", err)
	}

	dryRun := cfg.DryRun || agentDryRun
	chainClient, err := newChainClient(ctx, dryRun)
	if err != nil {
		return err
	}
	socialClient := newSocialClient(ctx, dryRun)
	defer func() {
		if err := socialClient.Close(); err != nil {
			logger.Warn("close social client", "error", err)
		}
	}()

	deps := jobs.Deps{
		Store:    s,
		Social:   socialClient,
		Agent:    llm.NewAgent(model, agentPersonality),
		Embedder: embedder,
		Chain:    chainClient,
		Memory:   memory.New(s, cfg.OwnID, memory.WithLogger(logger)),
		Logger:   logger,
		Web:      knowledge.NewWebFetcher(nil, logger),
		Ingester: knowledge.NewIngester(s, embedder, logger),
	}

	sched := scheduler.New(
		scheduler.WithTick(cfg.Tick),
		scheduler.WithForceTimeout(cfg.ForceTimeout),
		scheduler.WithPolicy(policy),
		scheduler.WithLogger(logger),
		scheduler.WithRecorder(collector),
		scheduler.WithCloseHook(socialClient.BeginClose),
	)
	names, err := jobs.Register(sched, deps, defs, cfg.ChainExplorerURL)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("no jobs enabled in %s", jobsFile)
	}

	stop := sched.HandleSignals(ctx)
	defer stop()

	statusAddr := cfg.StatusAddr
	if agentStatusAddr != "" {
		statusAddr = agentStatusAddr
	}
	if statusAddr != "" {
		srv := server.New(statusAddr, sched, collector, logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("status server", "error", err)
			}
		}()
	}

	logger.Info("agent starting", "jobs", names, "own_id", cfg.OwnID, "store", cfg.Store, "dry_run", cfg.DryRun || agentDryRun)
	start := time.Now()
	err = sched.Start(ctx)
	logger.Info("agent stopped", "uptime", time.Since(start).Round(time.Second))
	snap := collector.Snapshot()
	for _, name := range snap.JobNames() {
		j := snap.Jobs[name]
		logger.Info("job summary", "job", name, "runs", j.Count, "failures", j.Failures, "avg_ms", j.AvgTimeMs)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// newSocialClient returns the X client, or an in-memory fake for a dry run.
func newSocialClient(ctx context.Context, dryRun bool) social.Client {
	if dryRun {
		return social.NewMockClient(cfg.OwnID)
	}
	return social.NewXClient(ctx, cfg.XAPIURL, cfg.XAccessToken, cfg.OwnID, logger, collector)
}

// newChainClient returns the signing RPC client, or an in-memory fake for a
// dry run. An unreachable node is logged, not fatal.
func newChainClient(ctx context.Context, dryRun bool) (chain.Client, error) {
	if dryRun {
		return &chain.Mock{}, nil
	}
	if cfg.ChainPrivateKey == "" {
		return nil, errors.New("CHAIN_PRIVATE_KEY is not set")
	}
	rpc, err := chain.DialRPC(ctx, cfg.ChainRPCURL, cfg.ChainPrivateKey, cfg.ChainConfirmations, collector)
	if err != nil {
		return nil, err
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if head, err := rpc.BlockNumber(probeCtx); err != nil {
		logger.Warn("chain node unreachable, airdrops will fail until it recovers", "url", cfg.ChainRPCURL, "error", err)
	} else {
		logger.Debug("chain node reachable", "block", head, "from", rpc.From())
	}
	return rpc, nil
}
