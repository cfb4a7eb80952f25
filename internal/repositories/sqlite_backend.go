package repositories

import (
	"context"
	"database/sql"
	"strings"
)

// SQLExecutor is the subset of *sql.DB used by the sqlite backend and job queue.
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// SQLiteBackend stores cache primitives in the cache_hashes, cache_sets and cache_lists tables.
type SQLiteBackend struct {
	db SQLExecutor
}

// NewSQLiteBackend creates a backend on a migrated database.
func NewSQLiteBackend(db SQLExecutor) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

func (b *SQLiteBackend) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("hset", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cache_hashes (key, field, value) VALUES (?, ?, ?)
		ON CONFLICT (key, field) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return storeErr("hset", err)
	}
	defer stmt.Close()

	for field, value := range fields {
		if _, err := stmt.ExecContext(ctx, key, field, value); err != nil {
			return storeErr("hset", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("hset", err)
	}
	return nil
}

func (b *SQLiteBackend) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT field, value FROM cache_hashes WHERE key = ?", key)
	if err != nil {
		return nil, storeErr("hgetall", err)
	}
	defer rows.Close()

	fields := make(map[string]string)
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, storeErr("hgetall", err)
		}
		fields[field] = value
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("hgetall", err)
	}
	return fields, nil
}

func (b *SQLiteBackend) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("sadd", err)
	}
	defer tx.Rollback()

	for _, member := range members {
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO cache_sets (key, member) VALUES (?, ?)", key, member); err != nil {
			return storeErr("sadd", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("sadd", err)
	}
	return nil
}

func (b *SQLiteBackend) SMembers(ctx context.Context, key string) ([]string, error) {
	return b.column(ctx, "smembers", "SELECT member FROM cache_sets WHERE key = ? ORDER BY member", key)
}

func (b *SQLiteBackend) SCard(ctx context.Context, key string) (int, error) {
	var n int
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cache_sets WHERE key = ?", key).Scan(&n); err != nil {
		return 0, storeErr("scard", err)
	}
	return n, nil
}

func (b *SQLiteBackend) RPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("rpush", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(position) + 1, 0) FROM cache_lists WHERE key = ?", key).Scan(&next); err != nil {
		return storeErr("rpush", err)
	}

	for i, value := range values {
		if _, err := tx.ExecContext(ctx, "INSERT INTO cache_lists (key, position, value) VALUES (?, ?, ?)", key, next+i, value); err != nil {
			return storeErr("rpush", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("rpush", err)
	}
	return nil
}

func (b *SQLiteBackend) LRange(ctx context.Context, key string) ([]string, error) {
	return b.column(ctx, "lrange", "SELECT value FROM cache_lists WHERE key = ? ORDER BY position", key)
}

// Keys matches on a key range, [prefix, prefix+U+10FFFF), so the primary key indexes serve the scan and LIKE
// wildcards in ids are not interpreted.
func (b *SQLiteBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	return b.column(ctx, "keys", `
		SELECT key FROM cache_hashes WHERE key >= ?1 AND key < ?1 || char(1114111)
		UNION SELECT key FROM cache_sets WHERE key >= ?1 AND key < ?1 || char(1114111)
		UNION SELECT key FROM cache_lists WHERE key >= ?1 AND key < ?1 || char(1114111)
		ORDER BY key`, prefix)
}

func (b *SQLiteBackend) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("del", err)
	}
	defer tx.Rollback()

	for _, batch := range chunk(keys, deleteBatchSize) {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		args := make([]any, len(batch))
		for i, k := range batch {
			args[i] = k
		}

		for _, table := range []string{"cache_hashes", "cache_sets", "cache_lists"} {
			query := "DELETE FROM " + table + " WHERE key IN (" + placeholders + ")"
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return storeErr("del", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("del", err)
	}
	return nil
}

// Close is a no-op; the database is owned by the caller.
func (b *SQLiteBackend) Close() error { return nil }

func (b *SQLiteBackend) column(ctx context.Context, op, query string, args ...any) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, storeErr(op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return out, nil
}
