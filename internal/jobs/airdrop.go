package jobs

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/raphaelgruber/socialagent/internal/chain"
	"github.com/raphaelgruber/socialagent/internal/memory"
	"github.com/raphaelgruber/socialagent/internal/models"
	"github.com/raphaelgruber/socialagent/internal/scheduler"
	"github.com/raphaelgruber/socialagent/internal/social"
	"github.com/raphaelgruber/socialagent/internal/storage"
)

const airdropHistoryLimit = 10

// Reasons given to users whose airdrop request is refused.
const (
	reasonAlreadySent  = "Already airdropped. Requesting an airdrop multiple times is not allowed."
	reasonNotFollowing = "Not following our account. Please follow us first."
	reasonNoAddress    = "No valid address found. Put the address on its own, followed by a space or line break."
	reasonSendFailed   = "The transaction could not be sent. Please try again later."
)

// AirdropState configures the airdrop job.
type AirdropState struct {
	RecentPosts int
	Amount      string // whole tokens per airdrop
	ExplorerURL string
}

func (AirdropState) JobName() string { return AirdropJobName }

// AirdropJob answers replies under the agent's recent posts, sending tokens
// to eligible users who ask for them.
type AirdropJob struct {
	deps  Deps
	state AirdropState
}

func NewAirdropJob(deps Deps, state AirdropState) *AirdropJob {
	return &AirdropJob{deps: deps, state: state}
}

func (j *AirdropJob) State() scheduler.State { return j.state }

func (j *AirdropJob) Run(ctx context.Context) error {
	amount, err := chain.ParseAmount(j.state.Amount)
	if err != nil {
		return err
	}
	replies, err := j.newReplies(ctx)
	if err != nil {
		if isClosing(err) {
			return err
		}
		return joinErrors(AirdropJobName, []error{err})
	}

	var errs []error
	for _, r := range replies {
		if err := j.answer(ctx, r, amount); err != nil {
			if isClosing(err) {
				return err
			}
			j.deps.logger().Warn("airdrop reply failed", "user", r.AuthorID, "post", r.ID, "error", err)
			errs = append(errs, fmt.Errorf("user %s post %s message %q: %w", r.AuthorID, r.ID, truncate(r.Text, 40), err))
		}
	}
	return joinErrors(AirdropJobName, errs)
}

// newReplies returns replies to the agent's recent posts that were neither
// written by the agent nor handled before.
func (j *AirdropJob) newReplies(ctx context.Context) ([]social.Post, error) {
	own := j.deps.Memory.OwnID()
	posts, err := j.deps.Store.ListChatHistories(ctx, storage.HistoryFilter{
		Identifier: own,
		RootOnly:   true,
		Limit:      j.state.RecentPosts,
	})
	if err != nil {
		return nil, fmt.Errorf("list own posts: %w", err)
	}
	if len(posts) == 0 {
		return nil, nil
	}

	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ExternalID
	}
	replies, err := j.deps.Social.Replies(ctx, ids)
	if err != nil {
		return nil, err
	}

	var out []social.Post
	for _, r := range replies {
		if r.AuthorID == own {
			continue
		}
		_, err := j.deps.Store.FindChatHistory(ctx, r.AuthorID, r.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("check handled: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (j *AirdropJob) answer(ctx context.Context, r social.Post, amount *big.Float) error {
	own := j.deps.Memory.OwnID()
	history, err := j.deps.Memory.History(ctx, []string{own, r.AuthorID}, airdropHistoryLimit)
	if err != nil {
		return err
	}
	err = j.deps.Memory.Add(ctx, r.AuthorID, r.Text, r.ID,
		memory.WithCounterparty(own), memory.WithReference(r.ConversationID))
	if err != nil {
		return err
	}

	requested, err := j.isRequest(ctx, r.Text)
	if err != nil {
		return err
	}
	var text string
	if requested {
		text, err = j.tryAirdrop(ctx, r, history, amount)
	} else {
		text, err = j.deps.Agent.Reply(ctx, history, r.Text, "")
	}
	if err != nil {
		return err
	}

	reply, err := j.deps.Social.CreatePost(ctx, text, social.PostOptions{ReplyTo: r.ID})
	if err != nil {
		return err
	}
	err = j.deps.Memory.Add(ctx, own, text, reply.ID,
		memory.WithCounterparty(r.AuthorID), memory.WithReference(r.ConversationID))
	if err != nil {
		return err
	}
	return j.deps.Memory.Commit(ctx)
}

func (j *AirdropJob) isRequest(ctx context.Context, text string) (bool, error) {
	if !chain.ContainsAddress(text) {
		return false, nil
	}
	ok, err := j.deps.Agent.JudgeAirdropRequest(ctx, text)
	if err != nil {
		return false, fmt.Errorf("judge airdrop request: %w", err)
	}
	return ok, nil
}

// eligible allows one airdrop per user, and only to followers.
func (j *AirdropJob) eligible(ctx context.Context, userID string) (bool, string, error) {
	var reasons []string

	sent, err := j.deps.Store.ListAirdropHistories(ctx, userID)
	if err != nil {
		return false, "", fmt.Errorf("list airdrops: %w", err)
	}
	if len(sent) > 0 {
		reasons = append(reasons, reasonAlreadySent)
	}

	following, err := j.deps.Store.IsFollowing(ctx, userID)
	if err != nil {
		return false, "", fmt.Errorf("check following: %w", err)
	}
	if !following {
		reasons = append(reasons, reasonNotFollowing)
	}

	return len(reasons) == 0, strings.Join(reasons, " "), nil
}

func (j *AirdropJob) tryAirdrop(ctx context.Context, r social.Post, history []models.Chat, amount *big.Float) (string, error) {
	ok, reason, err := j.eligible(ctx, r.AuthorID)
	if err != nil {
		return "", err
	}
	if !ok {
		return j.deps.Agent.ReplyAirdrop(ctx, history, r.Text, false, reason)
	}

	addresses := chain.ExtractAddresses(r.Text)
	if len(addresses) == 0 {
		return j.deps.Agent.ReplyAirdrop(ctx, history, r.Text, false, reasonNoAddress)
	}
	address := addresses[0]

	hash, err := j.deps.Chain.SendNative(ctx, address, amount)
	if err != nil {
		j.deps.logger().Error("airdrop transfer failed", "user", r.AuthorID, "address", address, "error", err)
		return j.deps.Agent.ReplyAirdrop(ctx, history, r.Text, false, reasonSendFailed)
	}
	j.deps.logger().Info("airdrop sent", "user", r.AuthorID, "address", address, "hash", hash)

	record := models.NewAirdropHistory(r.AuthorID, r.ID, address, amount, hash)
	if err := j.saveAirdrop(ctx, record); err != nil {
		return "", err
	}

	text, err := j.deps.Agent.ReplyAirdrop(ctx, history, r.Text, true, "")
	if err != nil {
		return "", err
	}
	return text + " Check out the airdrop transaction: " + chain.ExplorerTxURL(j.state.ExplorerURL, hash), nil
}

// saveAirdrop records a sent transfer. When the write fails the record is
// retried in one commit with the staged request, so the request is never
// left unhandled after the funds went out.
func (j *AirdropJob) saveAirdrop(ctx context.Context, record *models.AirdropHistory) error {
	err := j.deps.Store.SaveEntities(ctx, record)
	if err == nil {
		return nil
	}
	j.deps.logger().Warn("save airdrop failed, retrying with memory commit", "hash", record.TransactionHash, "error", err)
	j.deps.Memory.Stage(record)
	if cerr := j.deps.Memory.Commit(ctx); cerr != nil {
		j.deps.logger().Error("airdrop sent but not recorded", "user", record.UserID, "hash", record.TransactionHash, "error", cerr)
		return fmt.Errorf("save airdrop %s: %w", record.TransactionHash, errors.Join(err, cerr))
	}
	return nil
}
