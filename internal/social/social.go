// Package social is the agent's view of the social network: reading posts and
// replies, publishing, liking and listing followers.
package social

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"time"
)

// ErrClosing is returned by clients that have started shutting down. Jobs
// must stop on it instead of retrying.
var ErrClosing = errors.New("closing: social client refuses new requests")

// Post is a post as returned by the network.
type Post struct {
	ID             string    `json:"id"`
	AuthorID       string    `json:"author_id"`
	ConversationID string    `json:"conversation_id"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

// PostOptions turns a new post into a reply or a quote.
type PostOptions struct {
	ReplyTo string
	Quote   string
}

// Client is the social network surface jobs use.
type Client interface {
	// Posts returns up to limit recent root posts (no replies or reposts) by userID.
	Posts(ctx context.Context, userID string, limit int) ([]Post, error)
	// Replies returns replies in the conversations started by postIDs.
	Replies(ctx context.Context, postIDs []string) ([]Post, error)
	// Lookup returns the posts with the given ids, skipping unknown ones.
	Lookup(ctx context.Context, ids []string) ([]Post, error)
	CreatePost(ctx context.Context, text string, opts PostOptions) (Post, error)
	Like(ctx context.Context, postID string) error
	// Followers returns one page of follower ids and the next page token.
	Followers(ctx context.Context, userID, pageToken string) ([]string, string, error)
	// BeginClose makes every later call fail with ErrClosing.
	BeginClose()
	Close() error
}

// postURL matches links to a single post on x.com or twitter.com.
var postURL = regexp.MustCompile(`(?i)https?://(?:www\.|mobile\.)?(?:x|twitter)\.com/\w+/status(?:es)?/(\d+)`)

// LinkedPostIDs returns the ids of posts linked from text, in order and
// without duplicates.
func LinkedPostIDs(text string) []string {
	var ids []string
	for _, m := range postURL.FindAllStringSubmatch(text, -1) {
		if !slices.Contains(ids, m[1]) {
			ids = append(ids, m[1])
		}
	}
	return ids
}

// IsPostURL reports whether u links to a post rather than an outside page.
func IsPostURL(u string) bool {
	return postURL.MatchString(u)
}

// PostURL returns the public URL of a post.
func PostURL(username, postID string) string {
	return "https://x.com/" + username + "/status/" + postID
}
