package jobs

import (
	"fmt"

	"github.com/raphaelgruber/socialagent/internal/config"
	"github.com/raphaelgruber/socialagent/internal/scheduler"
)

// Register adds every enabled job from defs to s and returns their names in
// registration order.
func Register(s *scheduler.Scheduler, deps Deps, defs config.Jobs, explorerURL string) ([]string, error) {
	type def struct {
		spec config.JobSpec
		job  scheduler.Job
	}
	all := []def{
		{defs.Post.JobSpec, NewPostJob(deps, PostState{
			Instructions: defs.Post.Instructions,
			RecentPosts:  defs.Post.RecentPosts,
		})},
		{defs.QuotePost.JobSpec, NewQuotePostJob(deps, QuotePostState{
			FollowingIDs: defs.QuotePost.FollowingIDs,
		})},
		{defs.Cheer.JobSpec, NewCheerJob(deps, CheerState{
			FollowingIDs: defs.Cheer.FollowingIDs,
			MinLength:    defs.Cheer.MinLength,
		})},
		{defs.Airdrop.JobSpec, NewAirdropJob(deps, AirdropState{
			RecentPosts: defs.Airdrop.RecentPosts,
			Amount:      defs.Airdrop.Amount,
			ExplorerURL: explorerURL,
		})},
		{defs.Embedding.JobSpec, NewEmbeddingJob(deps, EmbeddingState{
			BatchSize: defs.Embedding.BatchSize,
		})},
	}

	var names []string
	for _, d := range all {
		if !d.spec.Enabled {
			continue
		}
		name := d.job.State().JobName()
		if err := s.Register(d.spec.Interval, d.job, name); err != nil {
			return names, fmt.Errorf("register %s: %w", name, err)
		}
		names = append(names, name)
	}
	return names, nil
}
