package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/libsync/internal/shared"
)

// deleteBatchSize bounds the number of keys removed per backend round trip.
const deleteBatchSize = 500

// Backend is the key/value store the library cache is built on.
//
// Any store offering per-key hash records, unordered sets, ordered lists, prefix enumeration and batched deletion
// can back a [LibraryRepository]. Missing keys read as empty values, never as errors.
type Backend interface {
	// HSet merges fields into the hash stored at key.
	HSet(ctx context.Context, key string, fields map[string]string) error
	// HGetAll returns every field of the hash at key.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// SAdd adds members to the set at key.
	SAdd(ctx context.Context, key string, members ...string) error
	// SMembers returns the members of the set at key in lexical order.
	SMembers(ctx context.Context, key string) ([]string, error)
	// SCard returns the cardinality of the set at key.
	SCard(ctx context.Context, key string) (int, error)
	// RPush appends values to the list at key.
	RPush(ctx context.Context, key string, values ...string) error
	// LRange returns the list at key in insertion order.
	LRange(ctx context.Context, key string) ([]string, error)
	// Keys returns every key starting with prefix, across all value kinds.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Del removes keys of any kind.
	Del(ctx context.Context, keys ...string) error
	Close() error
}

// NewBackend builds the backend selected by cfg.
//
// The sqlite backend shares db with the job queue; the badger backend opens its own directory.
func NewBackend(cfg shared.CacheConfig, db SQLExecutor) (Backend, error) {
	switch cfg.Backend {
	case "", "sqlite":
		if db == nil {
			return nil, fmt.Errorf("%w: sqlite cache requires a database", shared.ErrMissingConfig)
		}
		return NewSQLiteBackend(db), nil
	case "badger":
		return OpenBadgerBackend(cfg.Path)
	default:
		return nil, fmt.Errorf("%w: unknown cache backend %q", shared.ErrInvalidConfig, cfg.Backend)
	}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", shared.ErrStoreUnavailable, op, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}

func chunk(keys []string, size int) [][]string {
	var out [][]string
	for len(keys) > size {
		out = append(out, keys[:size])
		keys = keys[size:]
	}
	if len(keys) > 0 {
		out = append(out, keys)
	}
	return out
}
