package db

import (
	"fmt"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/socialagent/internal/models"
)

// Record shapes as SurrealDB returns them. The id is a record link
// (table:key) that is converted back to the plain key.

type historyRecord struct {
	ID          surrealmodels.RecordID `json:"id"`
	Identifier  string                 `json:"identifier"`
	ExternalID  string                 `json:"external_id"`
	ReferenceID string                 `json:"reference_id"`
	Content     string                 `json:"content"`
	Embedding   []float32              `json:"embedding,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

func (r historyRecord) model() (*models.ChatHistory, error) {
	id, err := recordIDString(r.ID)
	if err != nil {
		return nil, err
	}
	return &models.ChatHistory{
		ID:          id,
		Identifier:  r.Identifier,
		ExternalID:  r.ExternalID,
		ReferenceID: r.ReferenceID,
		Content:     r.Content,
		Embedding:   r.Embedding,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

type groupRecord struct {
	GroupID   string        `json:"group_id"`
	Chats     []models.Chat `json:"chats"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type airdropRecord struct {
	ID              surrealmodels.RecordID `json:"id"`
	UserID          string                 `json:"user_id"`
	Address         string                 `json:"address"`
	Amount          string                 `json:"amount"`
	TransactionHash string                 `json:"transaction_hash"`
	PostID          string                 `json:"post_id"`
	CreatedAt       time.Time              `json:"created_at"`
}

type vectorRecord struct {
	ID        surrealmodels.RecordID `json:"id"`
	Text      string                 `json:"text"`
	UpdatedAt time.Time              `json:"updated_at"`
	Distance  float64                `json:"distance"`
}

// recordIDString extracts the string key from a SurrealDB RecordID.
func recordIDString(id surrealmodels.RecordID) (string, error) {
	s, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected ID type: %T (expected string)", id.ID)
	}
	return s, nil
}

// content renders an entity as the CONTENT of an UPSERT, without its id.
// Empty embeddings are left out so the field stays NONE and unindexed.
func content(e models.Entity, now time.Time) (map[string]any, error) {
	switch v := e.(type) {
	case *models.ChatHistory:
		m := map[string]any{
			"identifier":   v.Identifier,
			"external_id":  v.ExternalID,
			"reference_id": v.ReferenceID,
			"content":      v.Content,
			"created_at":   orNow(v.CreatedAt, now),
			"updated_at":   orNow(v.UpdatedAt, now),
		}
		if len(v.Embedding) > 0 {
			m["embedding"] = v.Embedding
		}
		return m, nil
	case *models.ChatGroup:
		chats := v.Chats
		if chats == nil {
			chats = []models.Chat{}
		}
		return map[string]any{
			"group_id":   v.GroupID,
			"chats":      chats,
			"created_at": orNow(v.CreatedAt, now),
			"updated_at": orNow(v.UpdatedAt, now),
		}, nil
	case *models.DocumentCore:
		m := map[string]any{
			"title":      v.Title,
			"source":     v.Source,
			"created_at": orNow(v.CreatedAt, now),
			"updated_at": orNow(v.UpdatedAt, now),
		}
		if len(v.Metadata) > 0 {
			m["metadata"] = v.Metadata
		}
		return m, nil
	case *models.DocumentChunk:
		m := map[string]any{
			"document_id": v.DocumentID,
			"position":    v.Position,
			"text":        v.Text,
			"created_at":  orNow(v.CreatedAt, now),
			"updated_at":  orNow(v.UpdatedAt, now),
		}
		if len(v.Metadata) > 0 {
			m["metadata"] = v.Metadata
		}
		if len(v.Embedding) > 0 {
			m["embedding"] = v.Embedding
		}
		return m, nil
	case *models.AirdropHistory:
		return map[string]any{
			"user_id":          v.UserID,
			"address":          v.Address,
			"amount":           v.Amount,
			"transaction_hash": v.TransactionHash,
			"post_id":          v.PostID,
			"created_at":       orNow(v.CreatedAt, now),
		}, nil
	case *models.SNSFollow:
		return map[string]any{
			"user_id":    v.UserID,
			"username":   v.Username,
			"created_at": orNow(v.CreatedAt, now),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported entity %T", e)
	}
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}
