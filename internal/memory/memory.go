// Package memory keeps the agent's view of what has been said, staging new
// messages in memory until a single transactional commit.
//
// Chat groups are cached for the life of the process and never evicted. The
// cache is per process: running several agents against one store needs an
// external lock.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/socialagent/internal/models"
	"github.com/raphaelgruber/socialagent/internal/storage"
)

// Memory stages chat histories and chat group updates for one agent identity.
// It is meant to be driven by one job at a time; the mutex only turns misuse
// into serialization.
type Memory struct {
	mu     sync.Mutex
	store  storage.Store
	ownID  string
	logger *slog.Logger
	now    func() time.Time

	groups  map[string]*models.ChatGroup
	pending *changeSet
}

// Option configures a Memory.
type Option func(*Memory)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Memory) { m.logger = l } }

// WithClock sets the time source used for staged records.
func WithClock(now func() time.Time) Option { return func(m *Memory) { m.now = now } }

// New creates a Memory for the agent identified by ownID.
func New(store storage.Store, ownID string, opts ...Option) *Memory {
	m := &Memory{
		store:   store,
		ownID:   ownID,
		logger:  slog.Default(),
		now:     time.Now,
		groups:  make(map[string]*models.ChatGroup),
		pending: newChangeSet(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OwnID returns the agent's own identity.
func (m *Memory) OwnID() string { return m.ownID }

type addOptions struct {
	counterparty string
	reference    string
}

// AddOption configures Add.
type AddOption func(*addOptions)

// WithCounterparty also appends the message to the group between the speaker
// (or the agent itself) and id.
func WithCounterparty(id string) AddOption {
	return func(o *addOptions) { o.counterparty = id }
}

// WithReference records the post this message replies to or quotes.
func WithReference(id string) AddOption {
	return func(o *addOptions) { o.reference = id }
}

// Add stages a message. Re-adding the same (speaker, externalID) pair
// overwrites the staged history and never appends to a group twice. A
// message that is already stored keeps its creation time, and its embedding
// while the content is unchanged.
func (m *Memory) Add(ctx context.Context, speakerID, content, externalID string, opts ...AddOption) error {
	var o addOptions
	for _, opt := range opts {
		opt(&o)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	history := models.NewChatHistory(speakerID, externalID, content, o.reference)
	if staged, ok := m.pending.get(historyKey(history.ID)).(*models.ChatHistory); ok {
		history.CreatedAt = staged.CreatedAt
		if staged.Content == content {
			history.Embedding = staged.Embedding
		}
	} else if err := m.keepStored(ctx, history); err != nil {
		return err
	}
	history.Touch(m.now())
	m.pending.put(historyKey(history.ID), history)

	if o.counterparty == "" {
		return nil
	}

	self := speakerID
	if self == o.counterparty {
		self = m.ownID
	}
	group, err := m.loadGroup(ctx, self, o.counterparty)
	if err != nil {
		return err
	}
	group.AddChatHistories(m.ownID, history)
	group.Touch(m.now())
	m.pending.put(groupKey(group.GroupID), group)
	return nil
}

// History returns up to limit of the most recent chats between ids, oldest
// first. It returns an empty slice when no group exists yet.
func (m *Memory) History(ctx context.Context, ids []string, limit int) ([]models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	group, err := m.findGroup(ctx, models.GroupID(ids...))
	if err != nil {
		return nil, err
	}
	if group == nil {
		return []models.Chat{}, nil
	}
	return group.Recent(limit), nil
}

// Stage adds an entity to the next commit, so it is written in the same
// transaction as the staged messages.
func (m *Memory) Stage(e models.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending.put(e.EntityTable()+":"+e.EntityID(), e)
}

// Commit writes every staged entity in one transaction and clears the change
// set whether or not the write succeeds. Cached groups keep their appended
// chats after a failed commit.
func (m *Memory) Commit(ctx context.Context) error {
	m.mu.Lock()
	entities := m.pending.drain()
	m.mu.Unlock()

	if len(entities) == 0 {
		return nil
	}
	if err := m.store.SaveEntities(ctx, entities...); err != nil {
		m.logger.Error("memory commit failed", "entities", len(entities), "error", err)
		return fmt.Errorf("commit memory: %w", err)
	}
	m.logger.Debug("memory committed", "entities", len(entities))
	return nil
}

// Pending reports how many entities are staged.
func (m *Memory) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending.len()
}

// keepStored copies the stored creation time and embedding of h, if h was
// saved before.
func (m *Memory) keepStored(ctx context.Context, h *models.ChatHistory) error {
	stored, err := m.store.FindChatHistory(ctx, h.Identifier, h.ExternalID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load chat history %s: %w", h.ID, err)
	}
	h.CreatedAt = stored.CreatedAt
	if stored.Content == h.Content {
		h.Embedding = stored.Embedding
	}
	return nil
}

// loadGroup finds the group in cache or storage, or creates it.
func (m *Memory) loadGroup(ctx context.Context, a, b string) (*models.ChatGroup, error) {
	gid := models.GroupID(a, b)
	group, err := m.findGroup(ctx, gid)
	if err != nil {
		return nil, err
	}
	if group == nil {
		group = models.NewChatGroup(a, b)
		m.groups[gid] = group
	}
	return group, nil
}

// findGroup returns the cached or stored group, or nil if neither exists.
func (m *Memory) findGroup(ctx context.Context, gid string) (*models.ChatGroup, error) {
	if g, ok := m.groups[gid]; ok {
		return g, nil
	}
	g, err := m.store.FindChatGroup(ctx, gid)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load chat group %s: %w", gid, err)
	}
	m.groups[gid] = g
	return g, nil
}

func historyKey(id string) string { return "history:" + id }
func groupKey(id string) string   { return "group:" + id }
