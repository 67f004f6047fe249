package kv

import (
	"context"
	"encoding/hex"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	fieldValue   = "v"
	fieldVersion = "vs"
)

// RedisStore keeps every entry in a hash <ns>:e:<hex key> and indexes the
// raw encoded keys in the sorted set <ns>:idx, all with score 0, so that
// ZRANGEBYLEX yields them in key order. Versionstamps come from INCR on
// <ns>:vs. Commits use WATCH/MULTI/EXEC on every key they touch.
type RedisStore struct {
	client    *redis.Client
	namespace string
	pageSize  int
}

func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	if namespace == "" {
		namespace = "chat"
	}
	return &RedisStore{client: client, namespace: namespace, pageSize: DefaultPageSize}
}

// OpenRedisStore parses a redis:// URL, checks the connection and returns
// the store.
func OpenRedisStore(ctx context.Context, url, namespace string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, unavailable("open", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, unavailable("open", err)
	}

	return NewRedisStore(client, namespace), nil
}

func (s *RedisStore) entryKey(key []byte) string {
	return s.namespace + ":e:" + hex.EncodeToString(key)
}

func (s *RedisStore) indexKey() string {
	return s.namespace + ":idx"
}

func (s *RedisStore) versionKey() string {
	return s.namespace + ":vs"
}

func (s *RedisStore) Get(ctx context.Context, key Key) (Entry, error) {
	b, err := key.Encode()
	if err != nil {
		return Entry{}, err
	}

	fields, err := s.client.HGetAll(ctx, s.entryKey(b)).Result()
	if err != nil {
		return Entry{}, unavailable("get", err)
	}

	value, vs, ok, err := parseEntryHash(fields)
	if err != nil {
		return Entry{}, unavailable("get", err)
	}
	if !ok {
		return Entry{Key: key}, nil
	}

	return Entry{Key: key, Value: value, Versionstamp: vs}, nil
}

func parseEntryHash(fields map[string]string) ([]byte, Versionstamp, bool, error) {
	raw, ok := fields[fieldVersion]
	if !ok {
		return nil, 0, false, nil
	}
	vs, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, 0, false, err
	}
	return []byte(fields[fieldValue]), Versionstamp(vs), true, nil
}

func (s *RedisStore) List(ctx context.Context, prefix Key) *Iterator {
	return newIterator(ctx, prefix, s.pageSize, s.page)
}

// page reads keys from the index first and their hashes second. Entries
// deleted in between are skipped.
func (s *RedisStore) page(ctx context.Context, start, end []byte, limit int) ([]rawEntry, error) {
	keys, err := s.client.ZRangeByLex(ctx, s.indexKey(), &redis.ZRangeBy{
		Min:   "[" + string(start),
		Max:   "(" + string(end),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, unavailable("list", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.HGetAll(ctx, s.entryKey([]byte(k)))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("list", err)
	}

	out := make([]rawEntry, 0, len(keys))
	for i, k := range keys {
		value, vs, ok, err := parseEntryHash(cmds[i].Val())
		if err != nil {
			return nil, unavailable("list", err)
		}
		if !ok {
			continue
		}
		out = append(out, rawEntry{key: []byte(k), value: value, vs: vs})
	}
	// A short page ends the scan, so refill after skipping.
	if len(out) < len(keys) && len(keys) == limit {
		more, err := s.page(ctx, successor([]byte(keys[len(keys)-1])), end, limit-len(out))
		if err != nil {
			return nil, err
		}
		out = append(out, more...)
	}

	return out, nil
}

func (s *RedisStore) Commit(ctx context.Context, op *AtomicOperation) (Versionstamp, error) {
	checks, muts, err := op.encode()
	if err != nil {
		return 0, err
	}

	watched := make([]string, 0, len(checks)+len(muts))
	for _, c := range checks {
		watched = append(watched, s.entryKey(c.key))
	}
	for _, m := range muts {
		watched = append(watched, s.entryKey(m.key))
	}

	var committed Versionstamp
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		for _, c := range checks {
			cur, err := tx.HGet(ctx, s.entryKey(c.key), fieldVersion).Uint64()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if Versionstamp(cur) != c.vs {
				return ErrCheckFailed
			}
		}

		writes, err := resolveWrites(muts, func(key []byte) ([]byte, bool, error) {
			v, err := tx.HGet(ctx, s.entryKey(key), fieldValue).Bytes()
			if errors.Is(err, redis.Nil) {
				return nil, false, nil
			}
			if err != nil {
				return nil, false, err
			}
			return v, true, nil
		})
		if err != nil {
			return err
		}

		vs, err := tx.Incr(ctx, s.versionKey()).Result()
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, w := range writes {
				pipe.HSet(ctx, s.entryKey(w.key), fieldValue, w.value, fieldVersion, vs)
				pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: 0, Member: string(w.key)})
			}
			return nil
		})
		if err != nil {
			return err
		}

		committed = Versionstamp(vs)
		return nil
	}, watched...)

	switch {
	case err == nil:
		return committed, nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, ErrCheckFailed):
		return 0, ErrCheckFailed
	case errors.Is(err, ErrInvalidMutation):
		return 0, err
	default:
		return 0, unavailable("commit", err)
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
