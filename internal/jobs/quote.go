package jobs

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/raphaelgruber/socialagent/internal/memory"
	"github.com/raphaelgruber/socialagent/internal/models"
	"github.com/raphaelgruber/socialagent/internal/scheduler"
	"github.com/raphaelgruber/socialagent/internal/social"
	"github.com/raphaelgruber/socialagent/internal/storage"
)

const (
	quoteCandidates = 10
	quoteMinLength  = 50
)

// ErrNoFollowing is returned by jobs that need followed accounts but have none.
var ErrNoFollowing = errors.New("no following ids configured")

// QuotePostState configures the quote-post job.
type QuotePostState struct {
	FollowingIDs []string
}

func (QuotePostState) JobName() string { return QuotePostJobName }

// QuotePostJob quotes one not yet quoted post of a random followed account.
// It draws from posts the cheer job stored.
type QuotePostJob struct {
	deps  Deps
	state QuotePostState
}

func NewQuotePostJob(deps Deps, state QuotePostState) *QuotePostJob {
	return &QuotePostJob{deps: deps, state: state}
}

func (j *QuotePostJob) State() scheduler.State { return j.state }

func (j *QuotePostJob) Run(ctx context.Context) error {
	if len(j.state.FollowingIDs) == 0 {
		return ErrNoFollowing
	}
	followingID := j.state.FollowingIDs[j.deps.intn(len(j.state.FollowingIDs))]

	candidates, err := j.unquoted(ctx, followingID)
	if err != nil {
		return joinErrors(QuotePostJobName, []error{err})
	}
	if len(candidates) == 0 {
		j.deps.logger().Info("nothing to quote", "following_id", followingID)
		return nil
	}

	quoting := candidates[j.deps.intn(len(candidates))]
	if err := j.quote(ctx, followingID, quoting); err != nil {
		if isClosing(err) {
			return err
		}
		return joinErrors(QuotePostJobName, []error{fmt.Errorf("quoting %q: %w", truncate(quoting.Content, 40), err)})
	}
	return nil
}

// unquoted returns recent stored posts of followingID long enough to quote
// and not yet quoted by the agent.
func (j *QuotePostJob) unquoted(ctx context.Context, followingID string) ([]*models.ChatHistory, error) {
	histories, err := j.deps.Store.ListChatHistories(ctx, storage.HistoryFilter{
		Identifier: followingID,
		Limit:      quoteCandidates,
	})
	if err != nil {
		return nil, fmt.Errorf("list posts of %s: %w", followingID, err)
	}

	var out []*models.ChatHistory
	for _, h := range histories {
		if utf8.RuneCountInString(h.Content) < quoteMinLength {
			continue
		}
		quoted, err := j.deps.Store.ListChatHistories(ctx, storage.HistoryFilter{
			Identifier:  j.deps.Memory.OwnID(),
			ReferenceID: social.PostURL(followingID, h.ExternalID),
			Limit:       1,
		})
		if err != nil {
			return nil, fmt.Errorf("check quoted: %w", err)
		}
		if len(quoted) > 0 {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

func (j *QuotePostJob) quote(ctx context.Context, followingID string, quoting *models.ChatHistory) error {
	knowledge, err := j.deps.knowledge(ctx, quoting.Content)
	if err != nil {
		return err
	}
	text, err := j.deps.Agent.QuotePost(ctx, quoting.Content, knowledge)
	if err != nil {
		return fmt.Errorf("infer quote: %w", err)
	}

	post, err := j.deps.Social.CreatePost(ctx, text, social.PostOptions{Quote: quoting.ExternalID})
	if err != nil {
		return err
	}
	j.deps.logger().Info("quoted", "id", post.ID, "quoted", quoting.ExternalID)

	ref := social.PostURL(followingID, quoting.ExternalID)
	if err := j.deps.Memory.Add(ctx, j.deps.Memory.OwnID(), text, post.ID, memory.WithReference(ref)); err != nil {
		return err
	}
	return j.deps.Memory.Commit(ctx)
}
