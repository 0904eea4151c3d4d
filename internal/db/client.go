// Package db is the SurrealDB storage backend: an auto-reconnecting client
// and a storage.Store built on it.
package db

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

// AuthDatabase signs in as a database user. Any other level signs in as root.
const AuthDatabase = "database"

func init() {
	// The websocket upgrade fails if TLS negotiates HTTP/2.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{NextProtos: []string{"http/1.1"}}
}

// Config holds the SurrealDB connection settings.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string

	// MaxRetries bounds reconnect attempts after the socket drops. Zero means 10.
	MaxRetries int
}

// Client is a SurrealDB session that reconnects with exponential backoff.
type Client struct {
	conn *rews.Connection[*gorillaws.Connection]
	db   *surrealdb.DB
	log  *slog.Logger
}

// NewClient dials, signs in and selects the namespace and database. A nil
// logger uses slog.Default.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	conn := dial(cfg, logger.New(log.Handler()))

	log.Info("connecting to surrealdb", "url", cfg.URL, "namespace", cfg.Namespace, "database", cfg.Database)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	db, err := surrealdb.FromConnection(ctx, conn)
	if err == nil {
		err = signIn(ctx, db, cfg)
	}
	if err == nil {
		err = db.Use(ctx, cfg.Namespace, cfg.Database)
	}
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("open session: %w", err)
	}
	return &Client{conn: conn, db: db, log: log}, nil
}

// dial builds the reconnecting socket. gorillaws appends /rpc itself.
func dial(cfg Config, sdkLogger logger.Logger) *rews.Connection[*gorillaws.Connection] {
	codec := surrealcbor.New()
	baseURL := strings.TrimSuffix(cfg.URL, "/rpc")

	conn := rews.New(
		func(context.Context) (*gorillaws.Connection, error) {
			return gorillaws.New(&connection.Config{
				BaseURL:     baseURL,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			}), nil
		},
		5*time.Second,
		codec,
		sdkLogger,
	)

	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = time.Second
	retryer.MaxDelay = 30 * time.Second
	retryer.Multiplier = 2
	retryer.MaxRetries = cfg.MaxRetries
	if retryer.MaxRetries <= 0 {
		retryer.MaxRetries = 10
	}
	conn.Retryer = retryer
	return conn
}

func signIn(ctx context.Context, db *surrealdb.DB, cfg Config) error {
	auth := surrealdb.Auth{Username: cfg.Username, Password: cfg.Password}
	if cfg.AuthLevel == AuthDatabase {
		auth.Namespace = cfg.Namespace
		auth.Database = cfg.Database
	}
	if _, err := db.SignIn(ctx, auth); err != nil {
		return fmt.Errorf("signin as %s: %w", cfg.Username, err)
	}
	return nil
}

// Close closes the socket and stops reconnecting.
func (c *Client) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// DB returns the session for queries.
func (c *Client) DB() *surrealdb.DB {
	return c.db
}

// InitSchema defines tables and indexes. dimension sizes the HNSW indexes
// and must match the embedding model.
func (c *Client) InitSchema(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("init schema: invalid dimension %d", dimension)
	}
	if _, err := surrealdb.Query[any](ctx, c.db, SchemaSQL(dimension), nil); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	c.log.Info("schema ready", "dimension", dimension)
	return nil
}

// Truncate deletes every row of the agent's tables and keeps the schema.
func (c *Client) Truncate(ctx context.Context) error {
	for _, table := range tables {
		if _, err := surrealdb.Query[any](ctx, c.db, "DELETE "+table, nil); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	c.log.Warn("all tables truncated", "tables", len(tables))
	return nil
}
