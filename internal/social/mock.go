package social

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"
)

// MockClient is an in-memory network used for dry runs and tests. Posts
// created through it are visible to later reads.
type MockClient struct {
	mu        sync.Mutex
	ownID     string
	posts     []Post
	likes     []string
	followers map[string][]string
	seq       int
	closing   bool

	// CreateErr, when set, is returned by CreatePost.
	CreateErr error
	Now       func() time.Time
}

var _ Client = (*MockClient)(nil)

// NewMockClient creates an empty network where the agent is ownID.
func NewMockClient(ownID string) *MockClient {
	return &MockClient{ownID: ownID, followers: make(map[string][]string), Now: time.Now}
}

// AddPost seeds a post. An empty ConversationID makes it a root post.
func (m *MockClient) AddPost(p Post) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ConversationID == "" {
		p.ConversationID = p.ID
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.Now()
	}
	m.posts = append(m.posts, p)
}

// AddFollower records followerID as following userID.
func (m *MockClient) AddFollower(userID, followerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.followers[userID] = append(m.followers[userID], followerID)
}

// Created returns posts created through the client, oldest first.
func (m *MockClient) Created() []Post {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Post
	for _, p := range m.posts {
		if p.AuthorID == m.ownID {
			out = append(out, p)
		}
	}
	return out
}

// Liked returns liked post ids in order.
func (m *MockClient) Liked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.likes)
}

func (m *MockClient) Posts(_ context.Context, userID string, limit int) ([]Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return nil, ErrClosing
	}

	var out []Post
	for i := len(m.posts) - 1; i >= 0; i-- {
		p := m.posts[i]
		if p.AuthorID != userID || p.ConversationID != p.ID {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockClient) Replies(_ context.Context, postIDs []string) ([]Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return nil, ErrClosing
	}

	var out []Post
	for _, p := range m.posts {
		if p.ConversationID != p.ID && slices.Contains(postIDs, p.ConversationID) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MockClient) Lookup(_ context.Context, ids []string) ([]Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return nil, ErrClosing
	}

	var out []Post
	for _, id := range ids {
		for _, p := range m.posts {
			if p.ID == id {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}

func (m *MockClient) CreatePost(_ context.Context, text string, opts PostOptions) (Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return Post{}, ErrClosing
	}
	if m.CreateErr != nil {
		return Post{}, m.CreateErr
	}

	m.seq++
	p := Post{
		ID:        "mock-" + strconv.Itoa(m.seq),
		AuthorID:  m.ownID,
		Text:      text,
		CreatedAt: m.Now(),
	}
	p.ConversationID = p.ID
	if opts.ReplyTo != "" {
		p.ConversationID = opts.ReplyTo
		for _, parent := range m.posts {
			if parent.ID == opts.ReplyTo {
				p.ConversationID = parent.ConversationID
				break
			}
		}
	}
	m.posts = append(m.posts, p)
	return p, nil
}

func (m *MockClient) Like(_ context.Context, postID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return ErrClosing
	}
	m.likes = append(m.likes, postID)
	return nil
}

func (m *MockClient) Followers(_ context.Context, userID, _ string) ([]string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return nil, "", ErrClosing
	}
	return slices.Clone(m.followers[userID]), "", nil
}

func (m *MockClient) BeginClose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closing = true
}

func (m *MockClient) Close() error {
	m.BeginClose()
	return nil
}
