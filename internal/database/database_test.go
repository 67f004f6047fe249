package database

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/npezzotti/go-chatstore/internal/kv"
	"github.com/npezzotti/go-chatstore/internal/stats"
	"github.com/npezzotti/go-chatstore/internal/testutil"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// tickingClock returns a later time on every call.
type tickingClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// fastRetry keeps contended tests quick while leaving room for many
// lost races.
func fastRetry() retry.Backoff {
	return retry.WithMaxRetries(1000, retry.NewConstant(time.Millisecond))
}

func newTestRepo(t *testing.T, store kv.Store, opts ...Option) *KvChatRepository {
	t.Helper()
	if store == nil {
		store = kv.NewMemoryStore()
	}
	clock := &tickingClock{t: testStart}
	base := []Option{WithBackoff(fastRetry), WithClock(clock.Now)}
	return NewKvChatRepository(store, testutil.TestLogger(t), stats.NewStatsUpdater(http.NewServeMux()), append(base, opts...)...)
}

func newBootstrappedRepo(t *testing.T, opts ...Option) *KvChatRepository {
	t.Helper()
	r := newTestRepo(t, nil, opts...)
	require.NoError(t, r.Bootstrap(context.Background()))
	return r
}

func newMockStats() *stats.MockStatsUpdater {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return()
	return su
}

func counterValue(t *testing.T, store kv.Store) uint64 {
	t.Helper()
	e, err := store.Get(context.Background(), roomIdCounterKey)
	require.NoError(t, err)
	require.True(t, e.Exists(), "room id counter is not set")
	n, err := kv.DecodeU64(e.Value)
	require.NoError(t, err)
	return n
}

// faultyStore lets the first skip commits through, then fails the next
// failures commits with commitErr, or all of them when failures is
// negative.
type faultyStore struct {
	kv.Store
	commitErr error
	skip      int32
	failures  int32
	commits   atomic.Int32
}

func (s *faultyStore) Commit(ctx context.Context, op *kv.AtomicOperation) (kv.Versionstamp, error) {
	n := s.commits.Add(1)
	if n > s.skip && (s.failures < 0 || n <= s.skip+s.failures) {
		return 0, s.commitErr
	}
	return s.Store.Commit(ctx, op)
}
