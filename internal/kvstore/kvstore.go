// Package kvstore is the durable key-value store behind the reporter's
// persisted state. Values are opaque blobs; the reporter owns their format.
package kvstore

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/solatis/aem/internal/core/db"
)

// Store persists blobs by key. Get returns types.ErrNotFound for missing keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}

// Open creates a store from a storage URL:
//
//	sqlite://path/to/file.db  SQLStore (schema migrated on open)
//	postgres://...            SQLStore (schema migrated on open)
//	redis://host:port/db      RedisStore
//	memory://                 MemoryStore (state lost on exit)
func Open(ctx context.Context, storageURL string) (Store, error) {
	u, err := url.Parse(storageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid storage URL: %w", err)
	}

	switch u.Scheme {
	case "memory":
		return NewMemoryStore(), nil
	case "redis", "rediss":
		return OpenRedis(ctx, storageURL)
	case "sqlite":
		_, source, err := db.Driver(storageURL)
		if err != nil {
			return nil, err
		}
		if dir := filepath.Dir(source); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create storage directory: %w", err)
			}
		}
		return OpenSQL(ctx, storageURL)
	case "postgres", "postgresql":
		return OpenSQL(ctx, storageURL)
	default:
		return nil, fmt.Errorf("unsupported storage scheme: %s (expected sqlite, postgres, redis or memory)", u.Scheme)
	}
}
