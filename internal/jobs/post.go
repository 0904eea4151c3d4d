package jobs

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/socialagent/internal/scheduler"
	"github.com/raphaelgruber/socialagent/internal/social"
	"github.com/raphaelgruber/socialagent/internal/storage"
)

// PostState configures the post job.
type PostState struct {
	Instructions []string
	RecentPosts  int
}

func (PostState) JobName() string { return PostJobName }

// PostJob publishes one original post per instruction.
type PostJob struct {
	deps  Deps
	state PostState
}

func NewPostJob(deps Deps, state PostState) *PostJob {
	return &PostJob{deps: deps, state: state}
}

func (j *PostJob) State() scheduler.State { return j.state }

func (j *PostJob) Run(ctx context.Context) error {
	var errs []error
	for _, instruction := range j.state.Instructions {
		if err := j.post(ctx, instruction); err != nil {
			if isClosing(err) {
				return err
			}
			j.deps.logger().Warn("post failed", "instruction", truncate(instruction, 40), "error", err)
			errs = append(errs, fmt.Errorf("instruction %q: %w", truncate(instruction, 40), err))
		}
	}
	return joinErrors(PostJobName, errs)
}

func (j *PostJob) post(ctx context.Context, instruction string) error {
	own := j.deps.Memory.OwnID()
	recent, err := j.deps.Store.ListChatHistories(ctx, storage.HistoryFilter{
		Identifier: own,
		RootOnly:   true,
		Limit:      j.state.RecentPosts,
	})
	if err != nil {
		return fmt.Errorf("list own posts: %w", err)
	}

	knowledge, err := j.deps.knowledge(ctx, instruction)
	if err != nil {
		return err
	}
	text, err := j.deps.Agent.Post(ctx, instruction, contents(recent), knowledge)
	if err != nil {
		return fmt.Errorf("infer post: %w", err)
	}

	post, err := j.deps.Social.CreatePost(ctx, text, social.PostOptions{})
	if err != nil {
		return err
	}
	j.deps.logger().Info("posted", "id", post.ID, "text", truncate(text, 60))

	if err := j.deps.Memory.Add(ctx, own, text, post.ID); err != nil {
		return err
	}
	return j.deps.Memory.Commit(ctx)
}
