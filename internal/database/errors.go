package database

import (
	"errors"
	"fmt"

	"github.com/npezzotti/go-chatstore/internal/kv"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrUserNotFound   = fmt.Errorf("user %w", ErrNotFound)
	ErrRoomNotFound   = fmt.Errorf("room %w", ErrNotFound)
	ErrNotInitialized = fmt.Errorf("room id counter %w, bootstrap has not run", ErrNotFound)

	ErrConflict   = errors.New("conflict")
	ErrUserExists = fmt.Errorf("user already exists: %w", ErrConflict)

	// ErrConcurrencyConflict means an optimistic commit lost a race. The
	// operation is safe to retry from a fresh read.
	ErrConcurrencyConflict = errors.New("concurrent update conflict")

	ErrStoreUnavailable = kv.ErrStoreUnavailable
	ErrInvalidInput     = errors.New("invalid input")
)
