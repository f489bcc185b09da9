package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/chessdao/backend/internal/ledgererr"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each record in a hash (fields v and d) and tracks the keys of a
// namespace in a set. Compare-and-set uses WATCH/MULTI optimistic transactions.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore wraps a connected client
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "ledger"}
}

func (r *RedisStore) recordKey(ns Namespace, key string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, ns, key)
}

func (r *RedisStore) indexKey(ns Namespace) string {
	return fmt.Sprintf("%s:%s:_keys", r.prefix, ns)
}

func (r *RedisStore) Get(ctx context.Context, ns Namespace, key string) (Record, error) {
	if err := checkNamespace(ns); err != nil {
		return Record{}, err
	}

	vals, err := r.rdb.HMGet(ctx, r.recordKey(ns, key), "v", "d").Result()
	if err != nil {
		return Record{}, ledgererr.Wrap(ledgererr.Unavailable, err, "get %s/%s", ns, key)
	}
	return decodeHash(ns, key, vals)
}

func (r *RedisStore) CompareAndSet(ctx context.Context, ns Namespace, key string, expected int64, value []byte) (bool, error) {
	if err := checkNamespace(ns); err != nil {
		return false, err
	}

	rk := r.recordKey(ns, key)
	swapped := false

	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, rk, "v").Int64()
		if errors.Is(err, redis.Nil) {
			cur = 0
		} else if err != nil {
			return err
		}
		if cur != expected {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, rk, "v", expected+1, "d", value)
			pipe.SAdd(ctx, r.indexKey(ns), key)
			return nil
		})
		if err != nil {
			return err
		}
		swapped = true
		return nil
	}, rk)

	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, ledgererr.Wrap(ledgererr.Unavailable, err, "compare-and-set %s/%s", ns, key)
	}
	return swapped, nil
}

func (r *RedisStore) List(ctx context.Context, ns Namespace) ([]Record, error) {
	if err := checkNamespace(ns); err != nil {
		return nil, err
	}

	keys, err := r.rdb.SMembers(ctx, r.indexKey(ns)).Result()
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.Unavailable, err, "list %s", ns)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.SliceCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HMGet(ctx, r.recordKey(ns, k), "v", "d")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, ledgererr.Wrap(ledgererr.Unavailable, err, "list %s", ns)
	}

	out := make([]Record, 0, len(keys))
	for i, k := range keys {
		rec, err := decodeHash(ns, k, cmds[i].Val())
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *RedisStore) Close() error { return r.rdb.Close() }

func decodeHash(ns Namespace, key string, vals []interface{}) (Record, error) {
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return Record{}, ledgererr.New(ledgererr.NotFound, "%s/%s not found", ns, key)
	}
	vs, _ := vals[0].(string)
	ds, _ := vals[1].(string)

	var version int64
	if _, err := fmt.Sscan(vs, &version); err != nil || version == 0 {
		return Record{}, ledgererr.New(ledgererr.NotFound, "%s/%s has no version", ns, key)
	}
	return Record{Key: key, Value: []byte(ds), Version: version}, nil
}
