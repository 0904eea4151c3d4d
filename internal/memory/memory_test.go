package memory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/socialagent/internal/models"
	"github.com/raphaelgruber/socialagent/internal/storage"
	"github.com/raphaelgruber/socialagent/internal/storage/storagetest"
)

const agentID = "agentId"

// steppingClock advances one second per call so staged messages are ordered.
func steppingClock() func() time.Time {
	t := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newTestMemory(store storage.Store) *Memory {
	return New(store, agentID,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(steppingClock()),
	)
}

func TestMemory_TwoMessagesThenCommit(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New()
	m := newTestMemory(store)

	require.NoError(t, m.Add(ctx, "222222", "first", "1001", WithCounterparty(agentID)))
	require.NoError(t, m.Add(ctx, "222222", "second", "1002", WithCounterparty(agentID)))
	require.NoError(t, m.Commit(ctx))

	group, err := store.FindChatGroup(ctx, models.GroupID(agentID, "222222"))
	require.NoError(t, err)
	assert.Len(t, group.Chats, 2)

	history, err := m.History(ctx, []string{agentID, "222222"}, 8)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "second", history[1].Content)
	assert.Equal(t, models.SpeakerOther, history[0].Speaker)
}

func TestMemory_AddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New()
	m := newTestMemory(store)

	require.NoError(t, m.Add(ctx, "u1", "hello", "42", WithCounterparty(agentID)))
	require.NoError(t, m.Add(ctx, "u1", "hello", "42", WithCounterparty(agentID)))
	assert.Equal(t, 2, m.Pending())
	require.NoError(t, m.Commit(ctx))

	// Re-delivery after commit must not append again either.
	require.NoError(t, m.Add(ctx, "u1", "hello", "42", WithCounterparty(agentID)))
	require.NoError(t, m.Commit(ctx))

	assert.Len(t, store.Histories(), 1)
	history, err := m.History(ctx, []string{"u1", agentID}, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestMemory_RoundTripAcrossRestart(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New()

	m := newTestMemory(store)
	require.NoError(t, m.Add(ctx, agentID, "gm", "p1", WithCounterparty("u2")))
	require.NoError(t, m.Add(ctx, "u2", "gm back", "p2", WithCounterparty(agentID), WithReference("p1")))
	require.NoError(t, m.Commit(ctx))

	restarted := newTestMemory(store)
	history, err := restarted.History(ctx, []string{"u2", agentID}, 8)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.SpeakerSelf, history[0].Speaker)
	assert.Equal(t, models.SpeakerOther, history[1].Speaker)

	reply, err := store.FindChatHistoryByRef(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "gm back", reply.Content)
}

func TestMemory_HistoryWithoutGroup(t *testing.T) {
	m := newTestMemory(storagetest.New())

	history, err := m.History(context.Background(), []string{agentID, "nobody"}, 5)
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
}

func TestMemory_HistoryLimit(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory(storagetest.New())

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, m.Add(ctx, "u3", "msg "+id, id, WithCounterparty(agentID)))
	}

	history, err := m.History(ctx, []string{agentID, "u3"}, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "msg c", history[0].Content)
	assert.Equal(t, "msg d", history[1].Content)
}

func TestMemory_CommitFailure(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New()
	store.SaveErr = errors.New("disk full")
	m := newTestMemory(store)

	require.NoError(t, m.Add(ctx, "u4", "hi", "x1", WithCounterparty(agentID)))
	err := m.Commit(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.SaveErr)
	assert.Contains(t, err.Error(), "commit memory")

	// The change set is cleared, but the cached group still has the chat.
	assert.Zero(t, m.Pending())
	assert.Empty(t, store.Histories())
	history, err := m.History(ctx, []string{agentID, "u4"}, 5)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestMemory_CommitEmptyIsNoop(t *testing.T) {
	store := storagetest.New()
	m := newTestMemory(store)

	require.NoError(t, m.Commit(context.Background()))
	assert.Zero(t, store.Saves())
}

func TestMemory_AddWithoutCounterpartyStagesOnlyHistory(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New()
	m := newTestMemory(store)

	require.NoError(t, m.Add(ctx, agentID, "a root post", "r1"))
	assert.Equal(t, 1, m.Pending())
	require.NoError(t, m.Commit(ctx))

	h, err := store.FindChatHistory(ctx, agentID, "r1")
	require.NoError(t, err)
	assert.Empty(t, h.ReferenceID)
	assert.Equal(t, agentID, m.OwnID())
}

func TestChangeSet_KeepsInsertionOrder(t *testing.T) {
	cs := newChangeSet()
	a := models.NewChatHistory("x", "1", "a", "")
	b := models.NewChatHistory("x", "2", "b", "")
	a2 := models.NewChatHistory("x", "1", "a2", "")

	cs.put(historyKey(a.ID), a)
	cs.put(historyKey(b.ID), b)
	cs.put(historyKey(a2.ID), a2)

	out := cs.drain()
	require.Len(t, out, 2)
	assert.Same(t, a2, out[0])
	assert.Same(t, b, out[1])
	assert.Zero(t, cs.len())
}

func TestMemory_ReAddAfterRestartKeepsStoredFields(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New()

	m := newTestMemory(store)
	require.NoError(t, m.Add(ctx, "u1", "hello", "1001", WithCounterparty(agentID)))
	require.NoError(t, m.Commit(ctx))

	stored, err := store.FindChatHistory(ctx, "u1", "1001")
	require.NoError(t, err)
	stored.Embedding = []float32{0.1, 0.2, 0.3}
	require.NoError(t, store.SaveEntities(ctx, stored))

	restarted := New(store, agentID,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return stored.CreatedAt.Add(time.Hour) }),
	)
	require.NoError(t, restarted.Add(ctx, "u1", "hello", "1001", WithCounterparty(agentID)))
	require.NoError(t, restarted.Commit(ctx))

	after, err := store.FindChatHistory(ctx, "u1", "1001")
	require.NoError(t, err)
	assert.True(t, stored.CreatedAt.Equal(after.CreatedAt), "created_at moved from %v to %v", stored.CreatedAt, after.CreatedAt)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, after.Embedding)
}

func TestMemory_ReAddWithNewContentDropsEmbedding(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New()

	m := newTestMemory(store)
	require.NoError(t, m.Add(ctx, "u1", "hello", "1001"))
	require.NoError(t, m.Commit(ctx))

	stored, err := store.FindChatHistory(ctx, "u1", "1001")
	require.NoError(t, err)
	stored.Embedding = []float32{1, 0}
	require.NoError(t, store.SaveEntities(ctx, stored))

	restarted := newTestMemory(store)
	require.NoError(t, restarted.Add(ctx, "u1", "hello, edited", "1001"))
	require.NoError(t, restarted.Commit(ctx))

	after, err := store.FindChatHistory(ctx, "u1", "1001")
	require.NoError(t, err)
	assert.Equal(t, "hello, edited", after.Content)
	assert.Empty(t, after.Embedding)
	assert.True(t, stored.CreatedAt.Equal(after.CreatedAt))

	unembedded, err := store.ListUnembedded(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, unembedded, 1)
}

func TestMemory_StageCommitsWithMessages(t *testing.T) {
	store := storagetest.New()
	m := New(store, "me")
	ctx := context.Background()

	require.NoError(t, m.Add(ctx, "bob", "gas please", "r1"))
	m.Stage(models.NewSNSFollow("bob", "bob"))
	assert.Equal(t, 2, m.Pending())

	require.NoError(t, m.Commit(ctx))
	assert.Equal(t, 1, store.Saves(), "one transaction")
	following, err := store.IsFollowing(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, following)
}
