package models

import (
	"slices"
	"strings"
	"time"
)

// Speaker tags which side of a conversation produced a chat.
type Speaker string

const (
	SpeakerSelf  Speaker = "self"
	SpeakerOther Speaker = "other"
)

// ChatHistory is one message as stored, keyed by author and the external
// (social network) id of the message.
type ChatHistory struct {
	ID          string    `json:"id"`
	Identifier  string    `json:"identifier"`   // author id
	ExternalID  string    `json:"external_id"`  // post id on the network
	ReferenceID string    `json:"reference_id"` // post this one replies to or quotes
	Content     string    `json:"content"`
	Embedding   []float32 `json:"embedding,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewChatHistory builds a history record with its deterministic id.
func NewChatHistory(identifier, externalID, content, referenceID string) *ChatHistory {
	return &ChatHistory{
		ID:          DeterministicID(identifier, externalID),
		Identifier:  identifier,
		ExternalID:  externalID,
		ReferenceID: referenceID,
		Content:     content,
	}
}

func (h *ChatHistory) EntityTable() string { return TableChatHistory }
func (h *ChatHistory) EntityID() string    { return h.ID }

// Touch updates timestamps before a save.
func (h *ChatHistory) Touch(now time.Time) { touch(&h.CreatedAt, &h.UpdatedAt, now) }

// Chat is one turn inside a chat group.
type Chat struct {
	ID        string    `json:"id"` // ChatHistory id
	Speaker   Speaker   `json:"speaker"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatGroup is the ordered conversation among a fixed set of participants.
type ChatGroup struct {
	GroupID   string    `json:"group_id"`
	Chats     []Chat    `json:"chats"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GroupID returns the canonical group key for a participant set.
// The key does not depend on the order of ids.
func GroupID(ids ...string) string {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	return strings.Join(sorted, "-")
}

// NewChatGroup creates an empty group for the given participants.
func NewChatGroup(ids ...string) *ChatGroup {
	return &ChatGroup{GroupID: GroupID(ids...)}
}

func (g *ChatGroup) EntityTable() string { return TableChatGroup }
func (g *ChatGroup) EntityID() string    { return g.GroupID }

// Touch updates timestamps before a save.
func (g *ChatGroup) Touch(now time.Time) { touch(&g.CreatedAt, &g.UpdatedAt, now) }

// AddChatHistories appends histories as chats, skipping ids already present.
// ownID decides whether a chat is tagged as self or other.
func (g *ChatGroup) AddChatHistories(ownID string, histories ...*ChatHistory) {
	for _, h := range histories {
		if g.hasChat(h.ID) {
			continue
		}
		speaker := SpeakerOther
		if h.Identifier == ownID {
			speaker = SpeakerSelf
		}
		created := h.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		g.Chats = append(g.Chats, Chat{
			ID:        h.ID,
			Speaker:   speaker,
			Content:   h.Content,
			CreatedAt: created,
		})
	}
}

// Recent returns the last limit chats, oldest first. A limit <= 0 returns all.
func (g *ChatGroup) Recent(limit int) []Chat {
	if limit <= 0 || limit >= len(g.Chats) {
		return slices.Clone(g.Chats)
	}
	return slices.Clone(g.Chats[len(g.Chats)-limit:])
}

func (g *ChatGroup) hasChat(id string) bool {
	return slices.ContainsFunc(g.Chats, func(c Chat) bool { return c.ID == id })
}
