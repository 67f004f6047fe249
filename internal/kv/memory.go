package kv

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/google/btree"
)

var errClosed = errors.New("store is closed")

type memItem struct {
	key   []byte
	value []byte
	vs    Versionstamp
}

func memLess(a, b memItem) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// MemoryStore keeps entries in a B-tree ordered by encoded key. Commits are
// serialized by a single write lock.
type MemoryStore struct {
	mu       sync.RWMutex
	tree     *btree.BTreeG[memItem]
	version  Versionstamp
	closed   bool
	pageSize int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tree:     btree.NewG[memItem](32, memLess),
		pageSize: DefaultPageSize,
	}
}

func (s *MemoryStore) Get(ctx context.Context, key Key) (Entry, error) {
	b, err := key.Encode()
	if err != nil {
		return Entry{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Entry{}, unavailable("get", errClosed)
	}

	item, ok := s.tree.Get(memItem{key: b})
	if !ok {
		return Entry{Key: key}, nil
	}
	return Entry{Key: key, Value: bytes.Clone(item.value), Versionstamp: item.vs}, nil
}

func (s *MemoryStore) List(ctx context.Context, prefix Key) *Iterator {
	return newIterator(ctx, prefix, s.pageSize, s.page)
}

func (s *MemoryStore) page(ctx context.Context, start, end []byte, limit int) ([]rawEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, unavailable("list", errClosed)
	}

	out := make([]rawEntry, 0, limit)
	s.tree.AscendRange(memItem{key: start}, memItem{key: end}, func(item memItem) bool {
		out = append(out, rawEntry{key: bytes.Clone(item.key), value: bytes.Clone(item.value), vs: item.vs})
		return len(out) < limit
	})
	return out, nil
}

func (s *MemoryStore) Commit(ctx context.Context, op *AtomicOperation) (Versionstamp, error) {
	checks, muts, err := op.encode()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, unavailable("commit", errClosed)
	}

	for _, c := range checks {
		var cur Versionstamp
		if item, ok := s.tree.Get(memItem{key: c.key}); ok {
			cur = item.vs
		}
		if cur != c.vs {
			return 0, ErrCheckFailed
		}
	}

	writes, err := resolveWrites(muts, func(key []byte) ([]byte, bool, error) {
		item, ok := s.tree.Get(memItem{key: key})
		return item.value, ok, nil
	})
	if err != nil {
		return 0, err
	}

	s.version++
	for _, w := range writes {
		s.tree.ReplaceOrInsert(memItem{key: w.key, value: bytes.Clone(w.value), vs: s.version})
	}
	return s.version, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return unavailable("ping", errClosed)
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
