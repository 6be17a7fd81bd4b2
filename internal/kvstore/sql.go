package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/solatis/aem/internal/core/db"
	"github.com/solatis/aem/internal/types"
)

// SQLStore keeps blobs in the kv_state table (sqlite or postgres).
type SQLStore struct {
	conn    *sqlx.DB
	queries *db.Queries
	now     func() time.Time
}

// OpenSQL connects, applies pending migrations and loads the named queries.
func OpenSQL(ctx context.Context, dbURL string) (*SQLStore, error) {
	conn, err := db.Open(ctx, dbURL)
	if err != nil {
		return nil, err
	}
	store, err := NewSQLStore(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an open connection. Migrations are applied first.
func NewSQLStore(ctx context.Context, conn *sqlx.DB) (*SQLStore, error) {
	if err := db.MigrateUp(ctx, conn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	queries, err := db.LoadQueries(conn)
	if err != nil {
		return nil, err
	}
	return &SQLStore{conn: conn, queries: queries, now: time.Now}, nil
}

// Get returns the blob stored under key.
func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.queries.GetContext(ctx, "get-kv-state", &value, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Put upserts the blob under key.
func (s *SQLStore) Put(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	if _, err := s.queries.ExecContext(ctx, "put-kv-state", key, value, s.now().UnixMilli()); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Keys lists stored keys in order.
func (s *SQLStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := s.queries.SelectContext(ctx, "list-kv-keys", &keys); err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.conn.Close()
}
