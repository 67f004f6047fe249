package kv

import (
	"encoding/binary"
	"fmt"
)

type MutationType int

const (
	MutationSet MutationType = iota
	MutationSum
)

// Check requires key to carry exactly Versionstamp at commit time. A zero
// Versionstamp requires the key to be absent.
type Check struct {
	Key          Key
	Versionstamp Versionstamp
}

type Mutation struct {
	Type  MutationType
	Key   Key
	Value []byte
	Delta uint64
}

// AtomicOperation collects checks and mutations that a Store commits as
// one unit.
//
//	op := kv.NewAtomic().
//		Check(key, 0).
//		Set(key, value)
//	_, err := store.Commit(ctx, op)
type AtomicOperation struct {
	checks    []Check
	mutations []Mutation
}

func NewAtomic() *AtomicOperation {
	return &AtomicOperation{}
}

func (op *AtomicOperation) Check(key Key, vs Versionstamp) *AtomicOperation {
	op.checks = append(op.checks, Check{Key: key, Versionstamp: vs})
	return op
}

func (op *AtomicOperation) Set(key Key, value []byte) *AtomicOperation {
	op.mutations = append(op.mutations, Mutation{Type: MutationSet, Key: key, Value: value})
	return op
}

// Sum adds delta to the u64 stored at key, wrapping at 2^64. An absent key
// counts as zero.
func (op *AtomicOperation) Sum(key Key, delta uint64) *AtomicOperation {
	op.mutations = append(op.mutations, Mutation{Type: MutationSum, Key: key, Delta: delta})
	return op
}

func (op *AtomicOperation) Checks() []Check {
	return op.checks
}

func (op *AtomicOperation) Mutations() []Mutation {
	return op.mutations
}

type encodedCheck struct {
	key []byte
	vs  Versionstamp
}

type encodedMutation struct {
	Mutation
	key []byte
}

type write struct {
	key   []byte
	value []byte
}

func (op *AtomicOperation) encode() ([]encodedCheck, []encodedMutation, error) {
	checks := make([]encodedCheck, 0, len(op.checks))
	for _, c := range op.checks {
		b, err := c.Key.Encode()
		if err != nil {
			return nil, nil, err
		}
		checks = append(checks, encodedCheck{key: b, vs: c.Versionstamp})
	}
	muts := make([]encodedMutation, 0, len(op.mutations))
	for _, m := range op.mutations {
		b, err := m.Key.Encode()
		if err != nil {
			return nil, nil, err
		}
		muts = append(muts, encodedMutation{Mutation: m, key: b})
	}
	return checks, muts, nil
}

// resolveWrites folds mutations in order into one final value per key.
// current loads the committed value of a key that a Sum reads before any
// earlier mutation in the same operation wrote it.
func resolveWrites(muts []encodedMutation, current func(key []byte) ([]byte, bool, error)) ([]write, error) {
	pending := make(map[string][]byte, len(muts))
	order := make([]string, 0, len(muts))

	for _, m := range muts {
		k := string(m.key)
		if _, seen := pending[k]; !seen {
			order = append(order, k)
		}

		switch m.Type {
		case MutationSet:
			pending[k] = m.Value
		case MutationSum:
			base, ok := pending[k]
			if !ok {
				var (
					found bool
					err   error
				)
				base, found, err = current(m.key)
				if err != nil {
					return nil, err
				}
				if !found {
					base = nil
				}
			}
			var n uint64
			if base != nil {
				v, err := DecodeU64(base)
				if err != nil {
					return nil, fmt.Errorf("%w: sum on %s: %w", ErrInvalidMutation, m.Key, err)
				}
				n = v
			}
			pending[k] = U64(n + m.Delta)
		default:
			return nil, fmt.Errorf("%w: unknown mutation type %d", ErrInvalidMutation, m.Type)
		}
	}

	writes := make([]write, 0, len(order))
	for _, k := range order {
		writes = append(writes, write{key: []byte(k), value: pending[k]})
	}
	return writes, nil
}

// U64 encodes n in the 8-byte big-endian form Sum operates on.
func U64(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func DecodeU64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("u64 value must be 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
