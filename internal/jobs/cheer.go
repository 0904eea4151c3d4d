package jobs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/raphaelgruber/socialagent/internal/knowledge"
	"github.com/raphaelgruber/socialagent/internal/memory"
	"github.com/raphaelgruber/socialagent/internal/rerank"
	"github.com/raphaelgruber/socialagent/internal/scheduler"
	"github.com/raphaelgruber/socialagent/internal/social"
	"github.com/raphaelgruber/socialagent/internal/storage"
)

const (
	cheerFetchLimit = 10
	// maxLinkedPages bounds the pages read for one post.
	maxLinkedPages = 3
)

// CheerState configures the cheer job.
type CheerState struct {
	FollowingIDs []string
	MinLength    int
}

func (CheerState) JobName() string { return CheerJobName }

// CheerJob likes and replies to new posts of followed accounts.
type CheerJob struct {
	deps  Deps
	state CheerState
}

func NewCheerJob(deps Deps, state CheerState) *CheerJob {
	return &CheerJob{deps: deps, state: state}
}

func (j *CheerJob) State() scheduler.State { return j.state }

// cheerOptions weights recency over similarity.
func cheerOptions() rerank.Options {
	opts := rerank.DefaultOptions()
	opts.Weight = rerank.Weight{Distance: 0.3, Recency: 0.7}
	return opts
}

func (j *CheerJob) Run(ctx context.Context) error {
	var errs []error
	replies := 0
	for _, followingID := range j.state.FollowingIDs {
		n, err := j.cheerAccount(ctx, followingID)
		replies += n
		if err != nil {
			if isClosing(err) {
				return fmt.Errorf("following %s: %w", followingID, err)
			}
			j.deps.logger().Warn("cheer failed", "following_id", followingID, "error", err)
			errs = append(errs, fmt.Errorf("following %s: %w", followingID, err))
		}
	}
	j.deps.logger().Info("cheer done", "replies", replies, "errors", len(errs))
	return joinErrors(CheerJobName, errs)
}

func (j *CheerJob) cheerAccount(ctx context.Context, followingID string) (int, error) {
	posts, err := j.newPosts(ctx, followingID)
	if err != nil {
		return 0, err
	}
	j.deps.logger().Info("cheering posts", "following_id", followingID, "count", len(posts))

	for i, p := range posts {
		if err := j.deps.Memory.Add(ctx, followingID, p.Text, p.ID); err != nil {
			return i, err
		}
		if err := j.deps.Social.Like(ctx, p.ID); err != nil {
			return i, err
		}
		if err := j.reply(ctx, p); err != nil {
			return i, err
		}
	}
	return len(posts), j.deps.Memory.Commit(ctx)
}

// newPosts skips posts already replied to and posts too short to cheer.
func (j *CheerJob) newPosts(ctx context.Context, followingID string) ([]social.Post, error) {
	posts, err := j.deps.Social.Posts(ctx, followingID, cheerFetchLimit)
	if err != nil {
		return nil, err
	}

	var out []social.Post
	for _, p := range posts {
		_, err := j.deps.Store.FindChatHistoryByRef(ctx, p.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("check replied: %w", err)
		}
		if utf8.RuneCountInString(p.Text) < j.state.MinLength {
			j.deps.logger().Debug("skipping short post", "id", p.ID, "length", utf8.RuneCountInString(p.Text))
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (j *CheerJob) reply(ctx context.Context, p social.Post) error {
	query, web, err := j.expand(ctx, p)
	if err != nil {
		return err
	}

	own := j.deps.Memory.OwnID()
	sources := []rerank.Source{rerank.ChatSource(own), rerank.DocumentSource(nil)}
	results, err := rerank.Rerank(ctx, j.deps.Embedder, j.deps.Store, query, sources, cheerOptions())
	if err != nil {
		return fmt.Errorf("rerank knowledge: %w", err)
	}
	background := rerank.Format(results)
	if web != "" {
		background = web + "\n" + background
	}

	text, err := j.deps.Agent.Cheer(ctx, query, background)
	if err != nil {
		return fmt.Errorf("infer cheer: %w", err)
	}
	reply, err := j.deps.Social.CreatePost(ctx, text, social.PostOptions{ReplyTo: p.ID})
	if err != nil {
		return err
	}
	j.deps.logger().Info("cheered", "post", p.ID, "reply", reply.ID)

	return j.deps.Memory.Add(ctx, own, text, reply.ID, memory.WithReference(p.ID))
}

// expand returns the post text followed by the text of the posts it links,
// and the articles of the other pages it links. Articles are saved as
// knowledge tagged with the post id. A link that cannot be read only loses
// context.
func (j *CheerJob) expand(ctx context.Context, p social.Post) (query, web string, err error) {
	query = p.Text

	ids := slices.DeleteFunc(social.LinkedPostIDs(p.Text), func(id string) bool { return id == p.ID })
	if len(ids) > 0 {
		linked, err := j.deps.Social.Lookup(ctx, ids)
		if isClosing(err) {
			return "", "", err
		}
		if err != nil {
			j.deps.logger().Warn("linked posts unavailable", "post", p.ID, "error", err)
		}
		for _, lp := range linked {
			j.deps.logger().Debug("linked post", "post", p.ID, "linked", lp.ID)
			query += "\n" + lp.Text
		}
	}

	if j.deps.Web == nil {
		return query, "", nil
	}
	var articles []string
	for _, u := range knowledge.LinkedURLs(p.Text) {
		if social.IsPostURL(u) {
			continue
		}
		if len(articles) == maxLinkedPages {
			break
		}
		art, err := j.deps.Web.Fetch(ctx, u)
		if err != nil {
			j.deps.logger().Warn("linked page unavailable", "post", p.ID, "url", u, "error", err)
			continue
		}
		j.deps.logger().Debug("linked page", "post", p.ID, "title", art.Title)
		articles = append(articles, art.Text)
		j.saveArticle(ctx, p.ID, art)
	}
	return query, strings.Join(articles, "\n"), nil
}

func (j *CheerJob) saveArticle(ctx context.Context, postID string, art *knowledge.Article) {
	if j.deps.Ingester == nil {
		return
	}
	title := art.Title
	if title == "" {
		title = art.URL
	}
	meta := map[string]any{"tweetId": postID}
	if _, err := j.deps.Ingester.IngestArticle(ctx, art.URL, title, art.Text, meta); err != nil {
		j.deps.logger().Warn("save linked page", "post", postID, "url", art.URL, "error", err)
	}
}
