package pg

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/socialagent/internal/models"
)

const (
	upsertChatHistory = `
		INSERT INTO chat_history (id, identifier, external_id, reference_id, content, embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::vector, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			identifier = EXCLUDED.identifier,
			external_id = EXCLUDED.external_id,
			reference_id = EXCLUDED.reference_id,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			updated_at = EXCLUDED.updated_at`

	upsertChatGroup = `
		INSERT INTO chat_group (group_id, chats, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (group_id) DO UPDATE SET
			chats = EXCLUDED.chats,
			updated_at = EXCLUDED.updated_at`

	upsertDocumentCore = `
		INSERT INTO document_core (id, title, source, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			source = EXCLUDED.source,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at`

	upsertDocumentChunk = `
		INSERT INTO document_chunk (id, document_id, position, text, metadata, embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::vector, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			position = EXCLUDED.position,
			text = EXCLUDED.text,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			updated_at = EXCLUDED.updated_at`

	upsertAirdropHistory = `
		INSERT INTO airdrop_history (id, user_id, address, amount, transaction_hash, post_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			address = EXCLUDED.address,
			amount = EXCLUDED.amount,
			transaction_hash = EXCLUDED.transaction_hash`

	upsertSNSFollow = `
		INSERT INTO sns_follow (id, user_id, username, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			username = EXCLUDED.username`
)

// upsert returns the statement and arguments that write e.
func upsert(e models.Entity, now time.Time) (string, []any, error) {
	switch v := e.(type) {
	case *models.ChatHistory:
		return upsertChatHistory, []any{
			v.ID, v.Identifier, v.ExternalID, v.ReferenceID, v.Content,
			vectorLiteral(v.Embedding), orNow(v.CreatedAt, now), orNow(v.UpdatedAt, now),
		}, nil
	case *models.ChatGroup:
		chats := v.Chats
		if chats == nil {
			chats = []models.Chat{}
		}
		return upsertChatGroup, []any{v.GroupID, chats, orNow(v.CreatedAt, now), orNow(v.UpdatedAt, now)}, nil
	case *models.DocumentCore:
		return upsertDocumentCore, []any{
			v.ID, v.Title, v.Source, metadata(v.Metadata), orNow(v.CreatedAt, now), orNow(v.UpdatedAt, now),
		}, nil
	case *models.DocumentChunk:
		return upsertDocumentChunk, []any{
			v.ID, v.DocumentID, v.Position, v.Text, metadata(v.Metadata),
			vectorLiteral(v.Embedding), orNow(v.CreatedAt, now), orNow(v.UpdatedAt, now),
		}, nil
	case *models.AirdropHistory:
		return upsertAirdropHistory, []any{
			v.ID, v.UserID, v.Address, v.Amount, v.TransactionHash, v.PostID, orNow(v.CreatedAt, now),
		}, nil
	case *models.SNSFollow:
		return upsertSNSFollow, []any{v.ID, v.UserID, v.Username, orNow(v.CreatedAt, now)}, nil
	default:
		return "", nil, fmt.Errorf("unsupported entity %T", e)
	}
}

// vectorLiteral renders an embedding in pgvector's text form. Empty
// embeddings become NULL.
func vectorLiteral(v []float32) *string {
	if len(v) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	s := b.String()
	return &s
}

// parseVector reads pgvector's text form back.
func parseVector(s *string) ([]float32, error) {
	if s == nil {
		return nil, nil
	}
	body := strings.TrimSuffix(strings.TrimPrefix(*s, "["), "]")
	if body == "" {
		return nil, nil
	}
	parts := strings.Split(body, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector: %w", err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

func metadata(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}
