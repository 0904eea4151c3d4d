// Package storagetest provides an in-memory storage.Store for tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/raphaelgruber/socialagent/internal/models"
	"github.com/raphaelgruber/socialagent/internal/storage"
)

// Fake is a goroutine-safe in-memory Store. Records are copied on the way in
// and out so callers cannot alias stored state.
type Fake struct {
	mu        sync.Mutex
	seq       int
	order     map[string]int
	histories map[string]*models.ChatHistory
	groups    map[string]*models.ChatGroup
	documents map[string]*models.DocumentCore
	chunks    map[string]*models.DocumentChunk
	airdrops  map[string]*models.AirdropHistory
	follows   map[string]*models.SNSFollow

	// SaveErr, when set, fails every SaveEntities call without saving.
	SaveErr error
	// FailSaves, when positive, fails that many SaveEntities calls with
	// ErrInjected before saves succeed again.
	FailSaves int
	// SearchErr, when set, fails every VectorSearch call.
	SearchErr error
	// Now stamps records that arrive without timestamps.
	Now func() time.Time

	saves  int
	closed bool
}

var _ storage.Store = (*Fake)(nil)

// ErrInjected is returned by saves failed through FailSaves.
var ErrInjected = errors.New("storagetest: injected save failure")

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		order:     make(map[string]int),
		histories: make(map[string]*models.ChatHistory),
		groups:    make(map[string]*models.ChatGroup),
		documents: make(map[string]*models.DocumentCore),
		chunks:    make(map[string]*models.DocumentChunk),
		airdrops:  make(map[string]*models.AirdropHistory),
		follows:   make(map[string]*models.SNSFollow),
		Now:       time.Now,
	}
}

func (f *Fake) SaveEntities(_ context.Context, entities ...models.Entity) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SaveErr != nil {
		return f.SaveErr
	}
	if f.FailSaves > 0 {
		f.FailSaves--
		return ErrInjected
	}
	f.saves++
	now := f.Now()
	for _, e := range entities {
		key := e.EntityTable() + ":" + e.EntityID()
		if _, ok := f.order[key]; !ok {
			f.seq++
			f.order[key] = f.seq
		}
		switch v := e.(type) {
		case *models.ChatHistory:
			c := *v
			c.Embedding = slices.Clone(v.Embedding)
			stamp(&c.CreatedAt, &c.UpdatedAt, now)
			f.histories[c.ID] = &c
		case *models.ChatGroup:
			c := *v
			c.Chats = slices.Clone(v.Chats)
			stamp(&c.CreatedAt, &c.UpdatedAt, now)
			f.groups[c.GroupID] = &c
		case *models.DocumentCore:
			c := *v
			c.Metadata = maps.Clone(v.Metadata)
			stamp(&c.CreatedAt, &c.UpdatedAt, now)
			f.documents[c.ID] = &c
		case *models.DocumentChunk:
			c := *v
			c.Metadata = maps.Clone(v.Metadata)
			c.Embedding = slices.Clone(v.Embedding)
			stamp(&c.CreatedAt, &c.UpdatedAt, now)
			f.chunks[c.ID] = &c
		case *models.AirdropHistory:
			c := *v
			if c.CreatedAt.IsZero() {
				c.CreatedAt = now
			}
			f.airdrops[c.ID] = &c
		case *models.SNSFollow:
			c := *v
			if c.CreatedAt.IsZero() {
				c.CreatedAt = now
			}
			f.follows[c.UserID] = &c
		default:
			return fmt.Errorf("unsupported entity %T", e)
		}
	}
	return nil
}

func stamp(created, updated *time.Time, now time.Time) {
	if created.IsZero() {
		*created = now
	}
	if updated.IsZero() {
		*updated = now
	}
}

func (f *Fake) FindChatGroup(_ context.Context, groupID string) (*models.ChatGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	g, ok := f.groups[groupID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *g
	c.Chats = slices.Clone(g.Chats)
	return &c, nil
}

func (f *Fake) ListChatHistories(_ context.Context, filter storage.HistoryFilter) ([]*models.ChatHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.ChatHistory
	for _, h := range f.histories {
		if filter.Identifier != "" && h.Identifier != filter.Identifier {
			continue
		}
		if filter.ReferenceID != "" && h.ReferenceID != filter.ReferenceID {
			continue
		}
		if filter.RootOnly && h.ReferenceID != "" {
			continue
		}
		c := *h
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		less := a.CreatedAt.Before(b.CreatedAt) ||
			a.CreatedAt.Equal(b.CreatedAt) && f.order[models.TableChatHistory+":"+a.ID] < f.order[models.TableChatHistory+":"+b.ID]
		if filter.Ascending {
			return less
		}
		return !less
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *Fake) FindChatHistory(_ context.Context, identifier, externalID string) (*models.ChatHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	h, ok := f.histories[models.DeterministicID(identifier, externalID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *h
	c.Embedding = slices.Clone(h.Embedding)
	return &c, nil
}

func (f *Fake) FindChatHistoryByRef(_ context.Context, referenceID string) (*models.ChatHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, h := range f.histories {
		if h.ReferenceID == referenceID {
			c := *h
			return &c, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *Fake) ListUnembedded(ctx context.Context, limit int) ([]*models.ChatHistory, error) {
	all, err := f.ListChatHistories(ctx, storage.HistoryFilter{Ascending: true})
	if err != nil {
		return nil, err
	}
	var out []*models.ChatHistory
	for _, h := range all {
		if len(h.Embedding) > 0 {
			continue
		}
		out = append(out, h)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *Fake) ListAirdropHistories(_ context.Context, userID string) ([]*models.AirdropHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.AirdropHistory
	for _, a := range f.airdrops {
		if a.UserID == userID {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *Fake) IsFollowing(_ context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.follows[userID]
	return ok, nil
}

func (f *Fake) VectorSearch(_ context.Context, q storage.VectorQuery) ([]storage.VectorRow, error) {
	if err := storage.ValidateVectorQuery(q); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SearchErr != nil {
		return nil, f.SearchErr
	}

	var rows []storage.VectorRow
	switch q.Table {
	case models.TableChatHistory:
		for _, h := range f.histories {
			if len(h.Embedding) == 0 || q.Identifier != "" && h.Identifier != q.Identifier {
				continue
			}
			rows = append(rows, storage.VectorRow{
				ID: h.ID, Text: h.Content, UpdatedAt: h.UpdatedAt,
				Distance: cosineDistance(q.Vector, h.Embedding),
			})
		}
	case models.TableDocumentChunk:
		for _, c := range f.chunks {
			if len(c.Embedding) == 0 || !matches(c.Metadata, q.Filter) {
				continue
			}
			rows = append(rows, storage.VectorRow{
				ID: c.ID, Text: c.Text, UpdatedAt: c.UpdatedAt,
				Distance: cosineDistance(q.Vector, c.Embedding),
			})
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Distance != rows[j].Distance {
			return rows[i].Distance < rows[j].Distance
		}
		return rows[i].ID < rows[j].ID
	})
	if q.K > 0 && len(rows) > q.K {
		rows = rows[:q.K]
	}
	return rows, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Saves reports how many successful SaveEntities calls were made.
func (f *Fake) Saves() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Histories returns every stored chat history, oldest first.
func (f *Fake) Histories() []*models.ChatHistory {
	out, _ := f.ListChatHistories(context.Background(), storage.HistoryFilter{Ascending: true})
	return out
}

// Airdrops returns every stored airdrop history.
func (f *Fake) Airdrops() []*models.AirdropHistory {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.AirdropHistory
	for _, a := range f.airdrops {
		c := *a
		out = append(out, &c)
	}
	return out
}

func matches(meta, filter map[string]any) bool {
	for k, want := range filter {
		if got, ok := meta[k]; !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
