package kv

import (
	"context"
	"iter"
)

// DefaultPageSize is the number of entries a List iterator fetches per
// round trip.
const DefaultPageSize = 100

type rawEntry struct {
	key   []byte
	value []byte
	vs    Versionstamp
}

// pageFunc returns up to limit entries with start <= key < end in
// ascending key order.
type pageFunc func(ctx context.Context, start, end []byte, limit int) ([]rawEntry, error)

// Iterator walks a prefix scan lazily, one page at a time. It is not safe
// for concurrent use and cannot be restarted.
//
//	it := store.List(ctx, kv.Key{"room_act"})
//	for it.Next() {
//		e := it.Entry()
//		...
//	}
//	if err := it.Err(); err != nil {
//		...
//	}
type Iterator struct {
	ctx       context.Context
	fetch     pageFunc
	start     []byte
	end       []byte
	pageSize  int
	page      []rawEntry
	pos       int
	exhausted bool
	cur       Entry
	err       error
}

func newIterator(ctx context.Context, prefix Key, pageSize int, fetch pageFunc) *Iterator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	it := &Iterator{ctx: ctx, fetch: fetch, pageSize: pageSize}
	it.start, it.end, it.err = prefixRange(prefix)
	return it
}

// Next advances to the next entry. It returns false when the scan is done
// or failed; check Err to tell the two apart.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	if it.pos >= len(it.page) {
		if it.exhausted {
			return false
		}
		if err := it.ctx.Err(); err != nil {
			it.err = err
			return false
		}
		page, err := it.fetch(it.ctx, it.start, it.end, it.pageSize)
		if err != nil {
			it.err = err
			return false
		}
		if len(page) < it.pageSize {
			it.exhausted = true
		}
		if len(page) == 0 {
			return false
		}
		it.page = page
		it.pos = 0
		it.start = successor(page[len(page)-1].key)
	}

	raw := it.page[it.pos]
	it.pos++
	key, err := DecodeKey(raw.key)
	if err != nil {
		it.err = err
		return false
	}
	it.cur = Entry{Key: key, Value: raw.value, Versionstamp: raw.vs}
	return true
}

// Entry returns the entry Next moved to.
func (it *Iterator) Entry() Entry {
	return it.cur
}

func (it *Iterator) Err() error {
	return it.err
}

// All adapts the iterator to a range-over-func sequence. A failure is
// yielded once as the final pair.
func (it *Iterator) All() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for it.Next() {
			if !yield(it.Entry(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(Entry{}, err)
		}
	}
}
