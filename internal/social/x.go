package social

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	twitter "github.com/g8rswimmer/go-twitter/v2"
	"golang.org/x/oauth2"

	"github.com/raphaelgruber/socialagent/internal/metrics"
)

const (
	maxRateLimitRetries = 3
	maxRateLimitWait    = 15 * time.Minute

	// Recent search caps the query at 512 characters, which fits about a
	// dozen conversation_id terms.
	repliesPerQuery = 10
	lookupBatch     = 100
)

var postFields = []twitter.TweetField{
	twitter.TweetFieldAuthorID,
	twitter.TweetFieldConversationID,
	twitter.TweetFieldCreatedAt,
	twitter.TweetFieldInReplyToUserID,
}

// bearer satisfies twitter.Authorizer. The oauth2 transport sets the header.
type bearer struct{}

func (bearer) Add(*http.Request) {}

// XClient talks to the X API v2 with an OAuth2 bearer token.
type XClient struct {
	api     *twitter.Client
	http    *http.Client
	ownID   string
	logger  *slog.Logger
	metrics *metrics.Collector
	closing atomic.Bool
	closeCh chan struct{}
	once    sync.Once
	now     func() time.Time
}

var _ Client = (*XClient)(nil)

// NewXClient creates a client for the API host (e.g. https://api.x.com)
// acting as ownID. A trailing /2 on baseURL is ignored. collector may be nil.
func NewXClient(ctx context.Context, baseURL, accessToken, ownID string, logger *slog.Logger, collector *metrics.Collector) *XClient {
	if logger == nil {
		logger = slog.Default()
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	hc := oauth2.NewClient(ctx, ts)
	host := strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/2")
	return &XClient{
		api:     &twitter.Client{Authorizer: bearer{}, Client: hc, Host: host},
		http:    hc,
		ownID:   ownID,
		logger:  logger,
		metrics: collector,
		closeCh: make(chan struct{}),
		now:     time.Now,
	}
}

func toPost(t *twitter.TweetObj) (Post, bool) {
	if t == nil || t.ID == "" {
		return Post{}, false
	}
	p := Post{ID: t.ID, AuthorID: t.AuthorID, ConversationID: t.ConversationID, Text: t.Text}
	if ts, err := time.Parse(time.RFC3339, t.CreatedAt); err == nil {
		p.CreatedAt = ts
	}
	return p, true
}

func toPosts(raw *twitter.TweetRaw) []Post {
	if raw == nil {
		return nil
	}
	posts := make([]Post, 0, len(raw.Tweets))
	for _, t := range raw.Tweets {
		if p, ok := toPost(t); ok {
			posts = append(posts, p)
		}
	}
	return posts
}

func (c *XClient) Posts(ctx context.Context, userID string, limit int) ([]Post, error) {
	opts := twitter.UserTweetTimelineOpts{
		TweetFields: postFields,
		Excludes:    []twitter.Exclude{twitter.ExcludeReplies, twitter.ExcludeRetweets},
		MaxResults:  min(max(limit, 5), 100),
	}
	var resp *twitter.UserTweetTimelineResponse
	err := c.do(ctx, "user timeline", func(ctx context.Context) error {
		var err error
		resp, err = c.api.UserTweetTimeline(ctx, userID, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get posts of %s: %w", userID, err)
	}
	if err := partialErr(resp.Raw); err != nil && len(resp.Raw.Tweets) == 0 {
		return nil, fmt.Errorf("get posts of %s: %w", userID, err)
	}
	posts := toPosts(resp.Raw)
	for i := range posts {
		if posts[i].AuthorID == "" {
			posts[i].AuthorID = userID
		}
	}
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

func (c *XClient) Replies(ctx context.Context, postIDs []string) ([]Post, error) {
	var replies []Post
	for batch := range slices.Chunk(postIDs, repliesPerQuery) {
		terms := make([]string, len(batch))
		for i, id := range batch {
			terms[i] = "conversation_id:" + id
		}
		query := strings.Join(terms, " OR ")
		opts := twitter.TweetRecentSearchOpts{TweetFields: postFields, MaxResults: 100}

		var resp *twitter.TweetRecentSearchResponse
		err := c.do(ctx, "recent search", func(ctx context.Context) error {
			var err error
			resp, err = c.api.TweetRecentSearch(ctx, query, opts)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("get replies: %w", err)
		}
		if err := partialErr(resp.Raw); err != nil && len(resp.Raw.Tweets) == 0 {
			return nil, fmt.Errorf("get replies: %w", err)
		}
		replies = append(replies, toPosts(resp.Raw)...)
	}
	return replies, nil
}

// Lookup returns the posts with the given ids. Deleted or hidden posts are
// left out.
func (c *XClient) Lookup(ctx context.Context, ids []string) ([]Post, error) {
	var posts []Post
	for batch := range slices.Chunk(ids, lookupBatch) {
		var resp *twitter.TweetLookupResponse
		err := c.do(ctx, "tweet lookup", func(ctx context.Context) error {
			var err error
			resp, err = c.api.TweetLookup(ctx, batch, twitter.TweetLookupOpts{TweetFields: postFields})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("lookup posts: %w", err)
		}
		if err := partialErr(resp.Raw); err != nil {
			c.logger.Debug("lookup skipped posts", "error", err)
		}
		posts = append(posts, toPosts(resp.Raw)...)
	}
	return posts, nil
}

func (c *XClient) CreatePost(ctx context.Context, text string, opts PostOptions) (Post, error) {
	req := twitter.CreateTweetRequest{Text: text, QuoteTweetID: opts.Quote}
	if opts.ReplyTo != "" {
		req.Reply = &twitter.CreateTweetReply{InReplyToTweetID: opts.ReplyTo}
	}

	var resp *twitter.CreateTweetResponse
	err := c.do(ctx, "create tweet", func(ctx context.Context) error {
		var err error
		resp, err = c.api.CreateTweet(ctx, req)
		return err
	})
	if err != nil {
		return Post{}, fmt.Errorf("create post: %w", err)
	}
	if resp.Tweet == nil || resp.Tweet.ID == "" {
		return Post{}, errors.New("create post: response has no post")
	}
	post := Post{ID: resp.Tweet.ID, AuthorID: c.ownID, Text: resp.Tweet.Text, CreatedAt: c.now()}
	if opts.ReplyTo == "" {
		post.ConversationID = post.ID
	}
	return post, nil
}

func (c *XClient) Like(ctx context.Context, postID string) error {
	err := c.do(ctx, "like", func(ctx context.Context) error {
		_, err := c.api.UserLikes(ctx, c.ownID, postID)
		return err
	})
	if err != nil {
		return fmt.Errorf("like post %s: %w", postID, err)
	}
	return nil
}

func (c *XClient) Followers(ctx context.Context, userID, pageToken string) ([]string, string, error) {
	opts := twitter.UserFollowersLookupOpts{MaxResults: 1000, PaginationToken: pageToken}

	var resp *twitter.UserFollowersLookupResponse
	err := c.do(ctx, "followers", func(ctx context.Context) error {
		var err error
		resp, err = c.api.UserFollowersLookup(ctx, userID, opts)
		return err
	})
	if err != nil {
		return nil, "", fmt.Errorf("list followers: %w", err)
	}
	var ids []string
	if resp.Raw != nil {
		for _, u := range resp.Raw.Users {
			if u != nil {
				ids = append(ids, u.ID)
			}
		}
	}
	var next string
	if resp.Meta != nil {
		next = resp.Meta.NextToken
	}
	return ids, next, nil
}

func (c *XClient) BeginClose() {
	c.once.Do(func() {
		c.closing.Store(true)
		close(c.closeCh)
		c.logger.Info("social client closing")
	})
}

func (c *XClient) Close() error {
	c.BeginClose()
	c.http.CloseIdleConnections()
	return nil
}

// do runs call, waiting out rate limits up to maxRateLimitRetries times.
// Closing interrupts both the call gate and the wait.
func (c *XClient) do(ctx context.Context, name string, call func(context.Context) error) error {
	start := time.Now()
	err := c.send(ctx, name, call)
	if c.metrics != nil && !errors.Is(err, ErrClosing) {
		c.metrics.Record(metrics.OpSocial, time.Since(start), err)
	}
	return err
}

func (c *XClient) send(ctx context.Context, name string, call func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if c.closing.Load() {
			return ErrClosing
		}
		err := call(ctx)
		if err == nil || !tooManyRequests(err) || attempt >= maxRateLimitRetries {
			return err
		}

		wait := time.Second
		if rl, ok := twitter.RateLimitFromError(err); ok {
			wait = c.rateLimitWait(rl.Reset.Time())
		}
		c.logger.Info("rate limited, waiting", "call", name, "wait", wait, "attempt", attempt+1)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-c.closeCh:
			timer.Stop()
			return ErrClosing
		case <-timer.C:
		}
	}
}

// rateLimitWait turns the reset time into a wait, capped at maxRateLimitWait.
func (c *XClient) rateLimitWait(reset time.Time) time.Duration {
	wait := reset.Sub(c.now())
	if wait <= 0 {
		return 0
	}
	return min(wait, maxRateLimitWait)
}

func tooManyRequests(err error) bool {
	var er *twitter.ErrorResponse
	if errors.As(err, &er) {
		return er.StatusCode == http.StatusTooManyRequests
	}
	var he *twitter.HTTPError
	if errors.As(err, &he) {
		return he.StatusCode == http.StatusTooManyRequests
	}
	return false
}

func partialErr(raw *twitter.TweetRaw) error {
	if raw == nil || len(raw.Errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(raw.Errors))
	for _, e := range raw.Errors {
		if e != nil {
			msgs = append(msgs, e.Title+": "+e.Detail)
		}
	}
	return fmt.Errorf("api errors: %s", strings.Join(msgs, "; "))
}
