// Package storage defines the persistence contract the agent relies on.
// internal/db (SurrealDB) and internal/db/pg (Postgres) implement it.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/raphaelgruber/socialagent/internal/models"
)

// ErrNotFound is returned by Find* lookups when no record matches.
var ErrNotFound = errors.New("not found")

// HistoryFilter selects chat histories.
type HistoryFilter struct {
	Identifier  string // author; empty matches everyone
	ReferenceID string // only histories referencing this post
	RootOnly    bool   // only histories without a reference
	Limit       int    // 0 means no limit
	Ascending   bool   // oldest first; default newest first
}

// VectorQuery describes a nearest-neighbour lookup against one table.
type VectorQuery struct {
	Table      string
	TextColumn string
	Vector     []float32
	K          int
	Filter     map[string]any // exact match on metadata keys
	Identifier string         // restrict chat rows to one author
}

// VectorRow is one hit of a vector search. Distance is cosine distance,
// smaller is closer.
type VectorRow struct {
	ID        string
	Text      string
	UpdatedAt time.Time
	Distance  float64
}

// Store is the narrow persistence surface used by memory, rerank and jobs.
type Store interface {
	// SaveEntities upserts every entity in one transaction. Either all are
	// saved or none are.
	SaveEntities(ctx context.Context, entities ...models.Entity) error

	FindChatGroup(ctx context.Context, groupID string) (*models.ChatGroup, error)
	ListChatHistories(ctx context.Context, filter HistoryFilter) ([]*models.ChatHistory, error)
	FindChatHistory(ctx context.Context, identifier, externalID string) (*models.ChatHistory, error)
	FindChatHistoryByRef(ctx context.Context, referenceID string) (*models.ChatHistory, error)
	ListUnembedded(ctx context.Context, limit int) ([]*models.ChatHistory, error)

	ListAirdropHistories(ctx context.Context, userID string) ([]*models.AirdropHistory, error)
	IsFollowing(ctx context.Context, userID string) (bool, error)

	VectorSearch(ctx context.Context, q VectorQuery) ([]VectorRow, error)

	Close() error
}

// searchable lists the tables and text columns VectorSearch accepts.
var searchable = map[string]string{
	models.TableChatHistory:   "content",
	models.TableDocumentChunk: "text",
}

// ValidateVectorQuery rejects tables or columns outside the known set so
// identifiers can be interpolated into queries safely.
func ValidateVectorQuery(q VectorQuery) error {
	col, ok := searchable[q.Table]
	if !ok {
		return &QueryError{Field: "table", Value: q.Table}
	}
	if q.TextColumn != col {
		return &QueryError{Field: "text column", Value: q.TextColumn}
	}
	if len(q.Vector) == 0 {
		return &QueryError{Field: "vector", Value: "empty"}
	}
	for k := range q.Filter {
		if !isIdent(k) {
			return &QueryError{Field: "filter key", Value: k}
		}
	}
	return nil
}

// QueryError reports an invalid query parameter.
type QueryError struct {
	Field string
	Value string
}

func (e *QueryError) Error() string {
	return "invalid " + e.Field + ": " + e.Value
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
