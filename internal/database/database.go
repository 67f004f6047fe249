package database

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/npezzotti/go-chatstore/internal/idgen"
	"github.com/npezzotti/go-chatstore/internal/kv"
	"github.com/npezzotti/go-chatstore/internal/stats"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

const (
	metricUsersRegistered     = "users_registered_total"
	metricRoomsCreated        = "rooms_created_total"
	metricRoomCreateConflicts = "room_create_conflicts_total"
	metricRoomIdConflicts     = "room_id_conflicts_total"
	metricMessagesCreated     = "messages_created_total"
)

const (
	defaultRetryLimit     = 10
	defaultRetryBaseDelay = 5 * time.Millisecond
	maxRetryDelay         = 250 * time.Millisecond
)

// KvChatRepository keeps users, rooms and messages in a kv.Store. It holds
// no locks of its own; every multi-key write is one atomic operation and
// races are settled by versionstamp checks.
type KvChatRepository struct {
	store      kv.Store
	log        zerolog.Logger
	stats      stats.StatsProvider
	now        func() time.Time
	newId      func(time.Time) string
	newBackoff func() retry.Backoff
}

type Option func(*KvChatRepository)

// WithRetry bounds how often a lost race is retried and sets the first
// backoff delay. Later delays double up to a fixed cap.
func WithRetry(limit uint64, baseDelay time.Duration) Option {
	return func(r *KvChatRepository) {
		if baseDelay <= 0 {
			baseDelay = defaultRetryBaseDelay
		}
		r.newBackoff = func() retry.Backoff {
			b := retry.NewExponential(baseDelay)
			b = retry.WithJitterPercent(20, b)
			b = retry.WithCappedDuration(maxRetryDelay, b)
			return retry.WithMaxRetries(limit, b)
		}
	}
}

func WithBackoff(newBackoff func() retry.Backoff) Option {
	return func(r *KvChatRepository) {
		r.newBackoff = newBackoff
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *KvChatRepository) {
		r.now = now
	}
}

func WithMessageIds(newId func(time.Time) string) Option {
	return func(r *KvChatRepository) {
		r.newId = newId
	}
}

func NewKvChatRepository(store kv.Store, logger zerolog.Logger, su stats.StatsProvider, opts ...Option) *KvChatRepository {
	r := &KvChatRepository{
		store: store,
		log:   logger.With().Str("component", "database").Logger(),
		stats: su,
		now:   func() time.Time { return time.Now().UTC() },
		newId: idgen.NewULID,
	}
	WithRetry(defaultRetryLimit, defaultRetryBaseDelay)(r)
	for _, opt := range opts {
		opt(r)
	}

	for _, name := range []string{
		metricUsersRegistered,
		metricRoomsCreated,
		metricRoomCreateConflicts,
		metricRoomIdConflicts,
		metricMessagesCreated,
	} {
		r.stats.RegisterMetric(name)
	}

	return r
}

func (r *KvChatRepository) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

func (r *KvChatRepository) Close() error {
	return r.store.Close()
}

// getJSON reads key into dst. It reports false when the key is absent.
func (r *KvChatRepository) getJSON(ctx context.Context, key kv.Key, dst any) (kv.Entry, bool, error) {
	e, err := r.store.Get(ctx, key)
	if err != nil {
		return kv.Entry{}, false, err
	}
	if !e.Exists() {
		return e, false, nil
	}
	if err := json.Unmarshal(e.Value, dst); err != nil {
		return kv.Entry{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return e, true, nil
}

// scan decodes every value under prefix as a T.
func scan[T any](ctx context.Context, store kv.Store, prefix kv.Key) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		for e, err := range store.List(ctx, prefix).All() {
			if err != nil {
				yield(zero, err)
				return
			}
			var v T
			if err := json.Unmarshal(e.Value, &v); err != nil {
				yield(zero, fmt.Errorf("decode %s: %w", e.Key, err))
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

func collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	out := []T{}
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal %T: %v", v, err))
	}
	return b
}
