package repositories

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Physical key prefixes. Set members are stored one per key, separated from the logical key by a NUL byte.
const (
	badgerHashPrefix = "h/"
	badgerSetPrefix  = "s/"
	badgerListPrefix = "l/"
	badgerMemberSep  = "\x00"
)

// BadgerBackend stores cache primitives in an embedded BadgerDB.
//
// Hashes and lists are JSON documents under a single key; sets are one key per member so that cardinality
// and membership never require decoding the whole set.
type BadgerBackend struct {
	db *badger.DB
}

// OpenBadgerBackend opens (or creates) a BadgerDB directory at path.
func OpenBadgerBackend(path string) (*BadgerBackend, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, storeErr("open badger", err)
	}
	return NewBadgerBackend(db), nil
}

// NewBadgerBackend wraps an open BadgerDB.
func NewBadgerBackend(db *badger.DB) *BadgerBackend {
	return &BadgerBackend{db: db}
}

func (b *BadgerBackend) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		current, err := readJSON[map[string]string](txn, badgerHashPrefix+key)
		if err != nil {
			return err
		}
		if current == nil {
			current = make(map[string]string, len(fields))
		}
		for field, value := range fields {
			current[field] = value
		}
		return writeJSON(txn, badgerHashPrefix+key, current)
	})
	if err != nil {
		return storeErr("hset", err)
	}
	return nil
}

func (b *BadgerBackend) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var fields map[string]string
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		fields, err = readJSON[map[string]string](txn, badgerHashPrefix+key)
		return err
	})
	if err != nil {
		return nil, storeErr("hgetall", err)
	}
	if fields == nil {
		fields = make(map[string]string)
	}
	return fields, nil
}

func (b *BadgerBackend) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		for _, member := range members {
			if err := txn.Set(setMemberKey(key, member), nil); err != nil {
				return fmt.Errorf("set member: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return storeErr("sadd", err)
	}
	return nil
}

func (b *BadgerBackend) SMembers(ctx context.Context, key string) ([]string, error) {
	var members []string
	prefix := []byte(badgerSetPrefix + key + badgerMemberSep)

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			members = append(members, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("smembers", err)
	}
	return members, nil
}

func (b *BadgerBackend) SCard(ctx context.Context, key string) (int, error) {
	members, err := b.SMembers(ctx, key)
	if err != nil {
		return 0, err
	}
	return len(members), nil
}

func (b *BadgerBackend) RPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		current, err := readJSON[[]string](txn, badgerListPrefix+key)
		if err != nil {
			return err
		}
		return writeJSON(txn, badgerListPrefix+key, append(current, values...))
	})
	if err != nil {
		return storeErr("rpush", err)
	}
	return nil
}

func (b *BadgerBackend) LRange(ctx context.Context, key string) ([]string, error) {
	var values []string
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		values, err = readJSON[[]string](txn, badgerListPrefix+key)
		return err
	})
	if err != nil {
		return nil, storeErr("lrange", err)
	}
	return values, nil
}

func (b *BadgerBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]struct{})

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for _, kind := range []string{badgerHashPrefix, badgerSetPrefix, badgerListPrefix} {
			p := []byte(kind + prefix)
			for it.Seek(p); it.ValidForPrefix(p); it.Next() {
				key := strings.TrimPrefix(string(it.Item().Key()), kind)
				if kind == badgerSetPrefix {
					key, _, _ = strings.Cut(key, badgerMemberSep)
				}
				seen[key] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("keys", err)
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Del resolves the physical keys first, then removes them through a write batch so large namespaces are not
// limited by a single transaction's size.
func (b *BadgerBackend) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	var physical [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for _, key := range keys {
			physical = append(physical, []byte(badgerHashPrefix+key), []byte(badgerListPrefix+key))

			p := []byte(badgerSetPrefix + key + badgerMemberSep)
			for it.Seek(p); it.ValidForPrefix(p); it.Next() {
				physical = append(physical, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return storeErr("del", err)
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for _, k := range physical {
		if err := wb.Delete(k); err != nil {
			return storeErr("del", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return storeErr("del", err)
	}
	return nil
}

func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

func setMemberKey(key, member string) []byte {
	return []byte(badgerSetPrefix + key + badgerMemberSep + member)
}

func readJSON[T any](txn *badger.Txn, key string) (T, error) {
	var v T
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return v, nil
	}
	if err != nil {
		return v, fmt.Errorf("get %s: %w", key, err)
	}

	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &v)
	})
	return v, err
}

func writeJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}
