// Package pg implements storage.Store on Postgres with the pgvector extension.
// The schema mirrors the SurrealDB one and is applied with goose migrations.
package pg

import (
	"context"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/raphaelgruber/socialagent/internal/metrics"
	"github.com/raphaelgruber/socialagent/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

// Config configures the pgx pool.
type Config struct {
	URL      string
	MaxConns int32
}

// Store is a Postgres-backed storage.Store.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Collector
	now     func() time.Time
}

var _ storage.Store = (*Store)(nil)

var newPool = pgxpool.NewWithConfig

// Open connects a pool and verifies it with a ping. collector may be nil.
func Open(ctx context.Context, cfg Config, collector *metrics.Collector) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := newPool(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool, metrics: collector, now: time.Now}, nil
}

// Migrate applies every pending migration.
func (s *Store) Migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) record(op string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.Record(op, time.Since(start), err)
	}
}
