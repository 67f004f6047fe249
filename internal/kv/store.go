// Package kv is an ordered key-value store abstraction with point reads,
// lazy prefix scans and multi-key atomic operations guarded by versionstamp
// checks. Backends: in-memory, PostgreSQL and Redis.
package kv

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCheckFailed is returned by Commit when a check did not hold or the
	// backend detected a conflicting concurrent write. Nothing was applied.
	ErrCheckFailed = errors.New("kv: check failed")

	// ErrStoreUnavailable wraps every failure of the underlying backend.
	ErrStoreUnavailable = errors.New("kv: store unavailable")

	ErrInvalidKey      = errors.New("kv: invalid key")
	ErrInvalidMutation = errors.New("kv: invalid mutation")
)

// Versionstamp identifies the commit that last wrote a key. Zero means the
// key is absent.
type Versionstamp uint64

// Entry is a key with its value and versionstamp.
type Entry struct {
	Key          Key
	Value        []byte
	Versionstamp Versionstamp
}

// Exists reports whether the entry was found.
func (e Entry) Exists() bool {
	return e.Versionstamp != 0
}

// Store is the primitive every chat record manager is built on.
type Store interface {
	// Get returns the entry for key. An absent key is not an error; the
	// returned entry has a zero Versionstamp.
	Get(ctx context.Context, key Key) (Entry, error)
	// List scans every key that extends prefix in ascending key order.
	List(ctx context.Context, prefix Key) *Iterator
	// Commit applies op atomically and returns the new versionstamp.
	Commit(ctx context.Context, op *AtomicOperation) (Versionstamp, error)
	Ping(ctx context.Context) error
	Close() error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("kv %s: %w: %w", op, ErrStoreUnavailable, err)
}
