package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/npezzotti/go-chatstore/internal/kv"
	"github.com/sethvargo/go-retry"
)

// NextRoomId claims the next room id. Ids are unique and increasing but
// may have gaps: a claimed id whose room never gets created is burned.
// A lost race is retried from a fresh read until the retry budget runs
// out, then ErrConcurrencyConflict is returned.
func (r *KvChatRepository) NextRoomId(ctx context.Context) (int, error) {
	var id int
	err := retry.Do(ctx, r.newBackoff(), func(ctx context.Context) error {
		n, err := r.claimRoomId(ctx)
		if errors.Is(err, ErrConcurrencyConflict) {
			r.stats.Incr(metricRoomIdConflicts)
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		id = n
		return nil
	})
	if err != nil {
		return 0, err
	}

	return id, nil
}

func (r *KvChatRepository) claimRoomId(ctx context.Context) (int, error) {
	e, err := r.store.Get(ctx, roomIdCounterKey)
	if err != nil {
		return 0, fmt.Errorf("read room id counter: %w", err)
	}
	if !e.Exists() {
		return 0, ErrNotInitialized
	}

	n, err := kv.DecodeU64(e.Value)
	if err != nil {
		return 0, fmt.Errorf("decode room id counter: %w", err)
	}

	op := kv.NewAtomic().
		Check(roomIdCounterKey, e.Versionstamp).
		Sum(roomIdCounterKey, 1)
	if _, err := r.store.Commit(ctx, op); err != nil {
		if errors.Is(err, kv.ErrCheckFailed) {
			return 0, ErrConcurrencyConflict
		}
		return 0, fmt.Errorf("claim room id: %w", err)
	}

	return int(n), nil
}
