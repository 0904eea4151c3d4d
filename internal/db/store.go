package db

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/socialagent/internal/metrics"
	"github.com/raphaelgruber/socialagent/internal/models"
	"github.com/raphaelgruber/socialagent/internal/storage"
)

// Store implements storage.Store on SurrealDB.
type Store struct {
	client  *Client
	metrics *metrics.Collector
	now     func() time.Time
}

var _ storage.Store = (*Store)(nil)

// NewStore wraps a connected client. collector may be nil.
func NewStore(client *Client, collector *metrics.Collector) *Store {
	return &Store{client: client, metrics: collector, now: time.Now}
}

func (s *Store) record(op string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.Record(op, time.Since(start), err)
	}
}

// SaveEntities upserts every entity inside one transaction. Either all
// records are written or none are.
func (s *Store) SaveEntities(ctx context.Context, entities ...models.Entity) (err error) {
	if len(entities) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { s.record(metrics.OpDBSave, start, err) }()

	now := s.now()
	var sql strings.Builder
	sql.WriteString("BEGIN TRANSACTION;\n")
	vars := make(map[string]any, len(entities)*3)
	for i, e := range entities {
		body, err := content(e, now)
		if err != nil {
			return err
		}
		n := strconv.Itoa(i)
		vars["t"+n] = e.EntityTable()
		vars["id"+n] = e.EntityID()
		vars["c"+n] = body
		fmt.Fprintf(&sql, "UPSERT type::record($t%s, $id%s) CONTENT $c%s RETURN NONE;\n", n, n, n)
	}
	sql.WriteString("COMMIT TRANSACTION;")

	if _, err := surrealdb.Query[any](ctx, s.client.DB(), sql.String(), vars); err != nil {
		return fmt.Errorf("save entities: %w", wrapQueryError(err))
	}
	return nil
}

func (s *Store) FindChatGroup(ctx context.Context, groupID string) (*models.ChatGroup, error) {
	start := time.Now()
	results, err := surrealdb.Query[[]groupRecord](ctx, s.client.DB(), `
		SELECT * FROM type::record("chat_group", $id)
	`, map[string]any{"id": groupID})
	s.record(metrics.OpDBQuery, start, err)
	if err != nil {
		return nil, fmt.Errorf("find chat group: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, storage.ErrNotFound
	}
	r := (*results)[0].Result[0]
	return &models.ChatGroup{GroupID: r.GroupID, Chats: r.Chats, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}, nil
}

func (s *Store) ListChatHistories(ctx context.Context, filter storage.HistoryFilter) ([]*models.ChatHistory, error) {
	var where []string
	vars := map[string]any{}
	if filter.Identifier != "" {
		where = append(where, "identifier = $identifier")
		vars["identifier"] = filter.Identifier
	}
	if filter.ReferenceID != "" {
		where = append(where, "reference_id = $reference")
		vars["reference"] = filter.ReferenceID
	}
	if filter.RootOnly {
		where = append(where, `reference_id = ""`)
	}

	sql := "SELECT * FROM chat_history"
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	if filter.Ascending {
		sql += " ORDER BY created_at ASC"
	} else {
		sql += " ORDER BY created_at DESC"
	}
	if filter.Limit > 0 {
		sql += " LIMIT $limit"
		vars["limit"] = filter.Limit
	}
	return s.queryHistories(ctx, "list chat histories", sql, vars)
}

func (s *Store) FindChatHistory(ctx context.Context, identifier, externalID string) (*models.ChatHistory, error) {
	histories, err := s.queryHistories(ctx, "find chat history", `
		SELECT * FROM type::record("chat_history", $id)
	`, map[string]any{"id": models.DeterministicID(identifier, externalID)})
	if err != nil {
		return nil, err
	}
	if len(histories) == 0 {
		return nil, storage.ErrNotFound
	}
	return histories[0], nil
}

func (s *Store) FindChatHistoryByRef(ctx context.Context, referenceID string) (*models.ChatHistory, error) {
	histories, err := s.queryHistories(ctx, "find chat history by reference", `
		SELECT * FROM chat_history WHERE reference_id = $reference LIMIT 1
	`, map[string]any{"reference": referenceID})
	if err != nil {
		return nil, err
	}
	if len(histories) == 0 {
		return nil, storage.ErrNotFound
	}
	return histories[0], nil
}

func (s *Store) ListUnembedded(ctx context.Context, limit int) ([]*models.ChatHistory, error) {
	sql := "SELECT * FROM chat_history WHERE embedding = NONE ORDER BY created_at ASC"
	vars := map[string]any{}
	if limit > 0 {
		sql += " LIMIT $limit"
		vars["limit"] = limit
	}
	return s.queryHistories(ctx, "list unembedded", sql, vars)
}

func (s *Store) queryHistories(ctx context.Context, op, sql string, vars map[string]any) ([]*models.ChatHistory, error) {
	start := time.Now()
	results, err := surrealdb.Query[[]historyRecord](ctx, s.client.DB(), sql, vars)
	s.record(metrics.OpDBQuery, start, err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if results == nil || len(*results) == 0 {
		return []*models.ChatHistory{}, nil
	}

	out := make([]*models.ChatHistory, 0, len((*results)[0].Result))
	for _, r := range (*results)[0].Result {
		h, err := r.model()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, h)
	}
	return out, nil
}

func (s *Store) ListAirdropHistories(ctx context.Context, userID string) ([]*models.AirdropHistory, error) {
	start := time.Now()
	results, err := surrealdb.Query[[]airdropRecord](ctx, s.client.DB(), `
		SELECT * FROM airdrop_history WHERE user_id = $user ORDER BY created_at ASC
	`, map[string]any{"user": userID})
	s.record(metrics.OpDBQuery, start, err)
	if err != nil {
		return nil, fmt.Errorf("list airdrop histories: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []*models.AirdropHistory{}, nil
	}

	out := make([]*models.AirdropHistory, 0, len((*results)[0].Result))
	for _, r := range (*results)[0].Result {
		id, err := recordIDString(r.ID)
		if err != nil {
			return nil, fmt.Errorf("list airdrop histories: %w", err)
		}
		out = append(out, &models.AirdropHistory{
			ID:              id,
			UserID:          r.UserID,
			Address:         r.Address,
			Amount:          r.Amount,
			TransactionHash: r.TransactionHash,
			PostID:          r.PostID,
			CreatedAt:       r.CreatedAt,
		})
	}
	return out, nil
}

func (s *Store) IsFollowing(ctx context.Context, userID string) (bool, error) {
	start := time.Now()
	results, err := surrealdb.Query[[]struct{ C int }](ctx, s.client.DB(), `
		SELECT count() AS c FROM sns_follow WHERE user_id = $user GROUP ALL
	`, map[string]any{"user": userID})
	s.record(metrics.OpDBQuery, start, err)
	if err != nil {
		return false, fmt.Errorf("is following: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return false, nil
	}
	return (*results)[0].Result[0].C > 0, nil
}

// VectorSearch runs an HNSW nearest-neighbour query. Table and column names
// are interpolated only after passing the storage allowlist.
func (s *Store) VectorSearch(ctx context.Context, q storage.VectorQuery) ([]storage.VectorRow, error) {
	if err := storage.ValidateVectorQuery(q); err != nil {
		return nil, err
	}
	k := q.K
	if k <= 0 {
		k = 5
	}

	vars := map[string]any{"vec": q.Vector}
	var filters []string
	if q.Identifier != "" {
		filters = append(filters, "AND identifier = $identifier")
		vars["identifier"] = q.Identifier
	}
	keys := make([]string, 0, len(q.Filter))
	for key := range q.Filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for i, key := range keys {
		name := "f" + strconv.Itoa(i)
		filters = append(filters, fmt.Sprintf("AND metadata.%s = $%s", key, name))
		vars[name] = q.Filter[key]
	}

	// HNSW with ef=40 for better recall
	sql := fmt.Sprintf(`
		SELECT id, %s AS text, updated_at, vector::distance::knn() AS distance
		FROM %s
		WHERE embedding <|%d,40|> $vec %s
		ORDER BY distance ASC
	`, q.TextColumn, q.Table, k, strings.Join(filters, " "))

	start := time.Now()
	results, err := surrealdb.Query[[]vectorRecord](ctx, s.client.DB(), sql, vars)
	s.record(metrics.OpDBSearch, start, err)
	if err != nil {
		return nil, fmt.Errorf("vector search %s: %w", q.Table, err)
	}
	if results == nil || len(*results) == 0 {
		return []storage.VectorRow{}, nil
	}

	rows := make([]storage.VectorRow, 0, len((*results)[0].Result))
	for _, r := range (*results)[0].Result {
		id, err := recordIDString(r.ID)
		if err != nil {
			return nil, fmt.Errorf("vector search %s: %w", q.Table, err)
		}
		rows = append(rows, storage.VectorRow{ID: id, Text: r.Text, UpdatedAt: r.UpdatedAt, Distance: r.Distance})
	}
	return rows, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Close(ctx)
}
