package store

import (
	"errors"

	"github.com/roach88/cellsync/internal/crdt"
)

// Lookup errors.
var (
	ErrStoreNotFound = errors.New("store not found")
	ErrStoreExists   = errors.New("store already exists")
	ErrTypeMismatch  = errors.New("store kind mismatch")
)

// Write errors.
var (
	// ErrNoKeys is returned when a collection write carries no witness key.
	ErrNoKeys = crdt.ErrNoKeys

	// ErrInvalidPageSize is returned by Stream for a page size below one.
	ErrInvalidPageSize = errors.New("streamed reads require a positive page size")
)

// Reference errors.
var (
	ErrUnknownStorageKey = errors.New("unknown storage key")
	ErrEntityNotFound    = errors.New("entity not found in backing store")
)
