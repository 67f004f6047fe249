package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactory builds an empty store whose iterators fetch pageSize
// entries per round trip.
type storeFactory func(t *testing.T, pageSize int) Store

func collect(t *testing.T, it *Iterator) []Entry {
	t.Helper()
	var out []Entry
	for e, err := range it.All() {
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func keysOf(entries []Entry) []Key {
	out := make([]Key, len(entries))
	for i, e := range entries {
		out[i] = e.Key
	}
	return out
}

func testStoreContract(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("get absent key", func(t *testing.T) {
		s := newStore(t, 0)
		e, err := s.Get(ctx, Key{"user", 1})
		require.NoError(t, err)
		assert.False(t, e.Exists())
		assert.Equal(t, Versionstamp(0), e.Versionstamp)
		assert.Nil(t, e.Value)
	})

	t.Run("create only when absent", func(t *testing.T) {
		s := newStore(t, 0)
		key := Key{"room_name", "lobby"}

		vs, err := s.Commit(ctx, NewAtomic().Check(key, 0).Set(key, []byte("first")))
		require.NoError(t, err)
		assert.NotZero(t, vs)

		_, err = s.Commit(ctx, NewAtomic().Check(key, 0).Set(key, []byte("second")))
		assert.True(t, errors.Is(err, ErrCheckFailed), "expected ErrCheckFailed, got %v", err)

		e, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte("first"), e.Value)
		assert.Equal(t, vs, e.Versionstamp)
	})

	t.Run("check against current versionstamp", func(t *testing.T) {
		s := newStore(t, 0)
		key := Key{"room_act", 1}

		vs1, err := s.Commit(ctx, NewAtomic().Set(key, []byte("v1")))
		require.NoError(t, err)

		vs2, err := s.Commit(ctx, NewAtomic().Check(key, vs1).Set(key, []byte("v2")))
		require.NoError(t, err)
		assert.Greater(t, vs2, vs1)

		_, err = s.Commit(ctx, NewAtomic().Check(key, vs1).Set(key, []byte("v3")))
		assert.True(t, errors.Is(err, ErrCheckFailed), "stale check must fail, got %v", err)

		e, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), e.Value)
	})

	t.Run("failed check applies nothing", func(t *testing.T) {
		s := newStore(t, 0)
		taken := Key{"room_name", "taken"}
		_, err := s.Commit(ctx, NewAtomic().Set(taken, []byte("x")))
		require.NoError(t, err)

		other := Key{"room_act", 7}
		_, err = s.Commit(ctx, NewAtomic().
			Check(taken, 0).
			Set(other, []byte("room")).
			Set(taken, []byte("y")))
		assert.True(t, errors.Is(err, ErrCheckFailed))

		e, err := s.Get(ctx, other)
		require.NoError(t, err)
		assert.False(t, e.Exists(), "no mutation of a failed operation may be visible")
	})

	t.Run("all mutations share one versionstamp", func(t *testing.T) {
		s := newStore(t, 0)
		a, b := Key{"room_act", 1}, Key{"room_name", "one"}

		vs, err := s.Commit(ctx, NewAtomic().Set(a, []byte("a")).Set(b, []byte("b")))
		require.NoError(t, err)

		ea, err := s.Get(ctx, a)
		require.NoError(t, err)
		eb, err := s.Get(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, vs, ea.Versionstamp)
		assert.Equal(t, vs, eb.Versionstamp)
	})

	t.Run("sum", func(t *testing.T) {
		s := newStore(t, 0)
		counter := Key{"next_room_id"}

		_, err := s.Commit(ctx, NewAtomic().Sum(counter, 5))
		require.NoError(t, err)
		_, err = s.Commit(ctx, NewAtomic().Sum(counter, 1).Sum(counter, 2))
		require.NoError(t, err)

		e, err := s.Get(ctx, counter)
		require.NoError(t, err)
		n, err := DecodeU64(e.Value)
		require.NoError(t, err)
		assert.Equal(t, uint64(8), n)

		_, err = s.Commit(ctx, NewAtomic().Set(counter, U64(^uint64(0))).Sum(counter, 2))
		require.NoError(t, err)
		e, err = s.Get(ctx, counter)
		require.NoError(t, err)
		n, err = DecodeU64(e.Value)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), n, "sum wraps at 2^64")
	})

	t.Run("sum on non-u64 value", func(t *testing.T) {
		s := newStore(t, 0)
		key := Key{"user", 1}
		vs, err := s.Commit(ctx, NewAtomic().Set(key, []byte("not a counter")))
		require.NoError(t, err)

		_, err = s.Commit(ctx, NewAtomic().Sum(key, 1))
		assert.True(t, errors.Is(err, ErrInvalidMutation), "expected ErrInvalidMutation, got %v", err)

		e, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, vs, e.Versionstamp)
	})

	t.Run("invalid key", func(t *testing.T) {
		s := newStore(t, 0)
		_, err := s.Get(ctx, Key{"room", 1.5})
		assert.True(t, errors.Is(err, ErrInvalidKey))
		_, err = s.Commit(ctx, NewAtomic().Set(Key{struct{}{}}, nil))
		assert.True(t, errors.Is(err, ErrInvalidKey))
	})

	t.Run("list prefix in key order", func(t *testing.T) {
		s := newStore(t, 2)
		op := NewAtomic()
		for _, k := range []Key{
			{"room_act", 10},
			{"room_act", 2},
			{"room_act", 0},
			{"room_act"},
			{"room_actx", 1},
			{"room_name", "a"},
			{"room_act", 1},
		} {
			op.Set(k, []byte(k.String()))
		}
		_, err := s.Commit(ctx, op)
		require.NoError(t, err)

		got := collect(t, s.List(ctx, Key{"room_act"}))
		assert.Equal(t, []Key{
			{"room_act", int64(0)},
			{"room_act", int64(1)},
			{"room_act", int64(2)},
			{"room_act", int64(10)},
		}, keysOf(got))
		for _, e := range got {
			assert.NotZero(t, e.Versionstamp)
			assert.Equal(t, []byte(Key{"room_act", int(e.Key[1].(int64))}.String()), e.Value)
		}
	})

	t.Run("list across pages", func(t *testing.T) {
		s := newStore(t, 3)
		for i := 0; i < 10; i++ {
			_, err := s.Commit(ctx, NewAtomic().Set(Key{"msg", 0, fmt.Sprintf("%02d", i)}, []byte{byte(i)}))
			require.NoError(t, err)
		}

		got := collect(t, s.List(ctx, Key{"msg", 0}))
		require.Len(t, got, 10)
		for i, e := range got {
			assert.Equal(t, fmt.Sprintf("%02d", i), e.Key[2])
		}

		assert.Empty(t, collect(t, s.List(ctx, Key{"msg", 1})))
	})

	t.Run("list stops early", func(t *testing.T) {
		s := newStore(t, 2)
		for i := 0; i < 5; i++ {
			_, err := s.Commit(ctx, NewAtomic().Set(Key{"user", i}, nil))
			require.NoError(t, err)
		}

		n := 0
		for _, err := range s.List(ctx, Key{"user"}).All() {
			require.NoError(t, err)
			n++
			if n == 3 {
				break
			}
		}
		assert.Equal(t, 3, n)
	})

	t.Run("concurrent optimistic increments", func(t *testing.T) {
		s := newStore(t, 0)
		key := Key{"counter"}
		const workers = 10

		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					e, err := s.Get(ctx, key)
					if err != nil {
						errs <- err
						return
					}
					var n uint64
					if e.Exists() {
						n, _ = DecodeU64(e.Value)
					}
					_, err = s.Commit(ctx, NewAtomic().Check(key, e.Versionstamp).Set(key, U64(n+1)))
					if errors.Is(err, ErrCheckFailed) {
						continue
					}
					if err != nil {
						errs <- err
					}
					return
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		e, err := s.Get(ctx, key)
		require.NoError(t, err)
		n, err := DecodeU64(e.Value)
		require.NoError(t, err)
		assert.Equal(t, uint64(workers), n)
	})

	t.Run("closed store", func(t *testing.T) {
		s := newStore(t, 0)
		require.NoError(t, s.Close())
		_, err := s.Get(ctx, Key{"user", 1})
		assert.True(t, errors.Is(err, ErrStoreUnavailable), "expected ErrStoreUnavailable, got %v", err)
	})
}
