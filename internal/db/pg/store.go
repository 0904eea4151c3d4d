package pg

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/raphaelgruber/socialagent/internal/metrics"
	"github.com/raphaelgruber/socialagent/internal/models"
	"github.com/raphaelgruber/socialagent/internal/storage"
)

// ErrEntityAlreadyExists indicates a unique constraint rejected a write.
var ErrEntityAlreadyExists = errors.New("entity already exists")

const uniqueViolation = "23505"

const historyColumns = "id, identifier, external_id, reference_id, content, embedding::text, created_at, updated_at"

// SaveEntities upserts every entity inside one transaction.
func (s *Store) SaveEntities(ctx context.Context, entities ...models.Entity) (err error) {
	if len(entities) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { s.record(metrics.OpDBSave, start, err) }()

	now := s.now()
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, e := range entities {
			sql, args, err := upsert(e, now)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, sql, args...); err != nil {
				return fmt.Errorf("upsert %s %s: %w", e.EntityTable(), e.EntityID(), err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save entities: %w", wrapError(err))
	}
	return nil
}

func wrapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrEntityAlreadyExists, pgErr.Message)
	}
	return err
}

func (s *Store) FindChatGroup(ctx context.Context, groupID string) (*models.ChatGroup, error) {
	start := time.Now()
	var g models.ChatGroup
	err := s.pool.QueryRow(ctx, `
		SELECT group_id, chats, created_at, updated_at FROM chat_group WHERE group_id = $1
	`, groupID).Scan(&g.GroupID, &g.Chats, &g.CreatedAt, &g.UpdatedAt)
	s.record(metrics.OpDBQuery, start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find chat group: %w", err)
	}
	return &g, nil
}

func (s *Store) ListChatHistories(ctx context.Context, filter storage.HistoryFilter) ([]*models.ChatHistory, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.Identifier != "" {
		where = append(where, "identifier = "+arg(filter.Identifier))
	}
	if filter.ReferenceID != "" {
		where = append(where, "reference_id = "+arg(filter.ReferenceID))
	}
	if filter.RootOnly {
		where = append(where, "reference_id = ''")
	}

	sql := "SELECT " + historyColumns + " FROM chat_history"
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	if filter.Ascending {
		sql += " ORDER BY created_at ASC"
	} else {
		sql += " ORDER BY created_at DESC"
	}
	if filter.Limit > 0 {
		sql += " LIMIT " + arg(filter.Limit)
	}
	return s.queryHistories(ctx, "list chat histories", sql, args...)
}

func (s *Store) FindChatHistory(ctx context.Context, identifier, externalID string) (*models.ChatHistory, error) {
	return s.findHistory(ctx, "find chat history",
		"SELECT "+historyColumns+" FROM chat_history WHERE id = $1",
		models.DeterministicID(identifier, externalID))
}

func (s *Store) FindChatHistoryByRef(ctx context.Context, referenceID string) (*models.ChatHistory, error) {
	return s.findHistory(ctx, "find chat history by reference",
		"SELECT "+historyColumns+" FROM chat_history WHERE reference_id = $1 LIMIT 1",
		referenceID)
}

func (s *Store) findHistory(ctx context.Context, op, sql string, args ...any) (*models.ChatHistory, error) {
	histories, err := s.queryHistories(ctx, op, sql, args...)
	if err != nil {
		return nil, err
	}
	if len(histories) == 0 {
		return nil, storage.ErrNotFound
	}
	return histories[0], nil
}

func (s *Store) ListUnembedded(ctx context.Context, limit int) ([]*models.ChatHistory, error) {
	sql := "SELECT " + historyColumns + " FROM chat_history WHERE embedding IS NULL ORDER BY created_at ASC"
	var args []any
	if limit > 0 {
		sql += " LIMIT $1"
		args = append(args, limit)
	}
	return s.queryHistories(ctx, "list unembedded", sql, args...)
}

func (s *Store) queryHistories(ctx context.Context, op, sql string, args ...any) ([]*models.ChatHistory, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		s.record(metrics.OpDBQuery, start, err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []*models.ChatHistory{}
	for rows.Next() {
		var h models.ChatHistory
		var embedding *string
		if err := rows.Scan(&h.ID, &h.Identifier, &h.ExternalID, &h.ReferenceID, &h.Content, &embedding, &h.CreatedAt, &h.UpdatedAt); err != nil {
			s.record(metrics.OpDBQuery, start, err)
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if h.Embedding, err = parseVector(embedding); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, &h)
	}
	err = rows.Err()
	s.record(metrics.OpDBQuery, start, err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *Store) ListAirdropHistories(ctx context.Context, userID string) ([]*models.AirdropHistory, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, address, amount, transaction_hash, post_id, created_at
		FROM airdrop_history WHERE user_id = $1 ORDER BY created_at ASC
	`, userID)
	if err != nil {
		s.record(metrics.OpDBQuery, start, err)
		return nil, fmt.Errorf("list airdrop histories: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.AirdropHistory, error) {
		var a models.AirdropHistory
		err := row.Scan(&a.ID, &a.UserID, &a.Address, &a.Amount, &a.TransactionHash, &a.PostID, &a.CreatedAt)
		return &a, err
	})
	s.record(metrics.OpDBQuery, start, err)
	if err != nil {
		return nil, fmt.Errorf("list airdrop histories: %w", err)
	}
	return out, nil
}

func (s *Store) IsFollowing(ctx context.Context, userID string) (bool, error) {
	start := time.Now()
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sns_follow WHERE user_id = $1)`, userID).Scan(&ok)
	s.record(metrics.OpDBQuery, start, err)
	if err != nil {
		return false, fmt.Errorf("is following: %w", err)
	}
	return ok, nil
}

// VectorSearch orders rows by cosine distance (<=>). Table and column names
// are interpolated only after passing the storage allowlist. Metadata filters
// use jsonb containment so keys never reach the query text.
func (s *Store) VectorSearch(ctx context.Context, q storage.VectorQuery) ([]storage.VectorRow, error) {
	if err := storage.ValidateVectorQuery(q); err != nil {
		return nil, err
	}
	if q.Identifier != "" && q.Table != models.TableChatHistory {
		return nil, &storage.QueryError{Field: "identifier", Value: q.Table}
	}
	if len(q.Filter) > 0 && q.Table != models.TableDocumentChunk {
		return nil, &storage.QueryError{Field: "filter", Value: q.Table}
	}
	k := q.K
	if k <= 0 {
		k = 5
	}

	args := []any{*vectorLiteral(q.Vector)}
	filters := ""
	if q.Identifier != "" {
		args = append(args, q.Identifier)
		filters += " AND identifier = $" + strconv.Itoa(len(args))
	}
	if len(q.Filter) > 0 {
		args = append(args, q.Filter)
		filters += " AND metadata @> $" + strconv.Itoa(len(args)) + "::jsonb"
	}
	args = append(args, k)

	sql := fmt.Sprintf(`
		SELECT id, %s, updated_at, embedding <=> $1::vector AS distance
		FROM %s
		WHERE embedding IS NOT NULL%s
		ORDER BY distance ASC
		LIMIT $%d
	`, q.TextColumn, q.Table, filters, len(args))

	start := time.Now()
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		s.record(metrics.OpDBSearch, start, err)
		return nil, fmt.Errorf("vector search %s: %w", q.Table, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.VectorRow, error) {
		var r storage.VectorRow
		err := row.Scan(&r.ID, &r.Text, &r.UpdatedAt, &r.Distance)
		return r, err
	})
	s.record(metrics.OpDBSearch, start, err)
	if err != nil {
		return nil, fmt.Errorf("vector search %s: %w", q.Table, err)
	}
	return out, nil
}
