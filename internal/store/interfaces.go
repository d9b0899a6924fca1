package store

import (
	"context"

	"github.com/roach88/cellsync/internal/ir"
)

// Observable is the listener surface every store exposes.
type Observable interface {
	ID() string
	Kind() Kind
	Version() int64
	Subscribe(l Listener) Subscription
	Unsubscribe(s Subscription) bool
}

// VariableStore is a versioned single-entity cell.
// Implemented by *Variable and by the reference-mode wrapper.
type VariableStore interface {
	Observable

	// Get returns the current value, or nil when empty.
	Get(ctx context.Context) (*ir.Entity, error)
	Set(ctx context.Context, value ir.Entity, opts ...WriteOption) error
	Clear(ctx context.Context, opts ...WriteOption) error
	Snapshot(ctx context.Context) (ir.Snapshot, error)
	Restore(snap ir.Snapshot) error
}

// CollectionStore is a versioned CRDT collection.
// Implemented by *Collection and by the reference-mode wrapper.
type CollectionStore interface {
	Observable

	// Get returns the entity with id, or nil when absent.
	Get(ctx context.Context, id string) (*ir.Entity, error)
	List(ctx context.Context) ([]ir.Entity, error)
	Keys(id string) []string
	Store(ctx context.Context, value ir.Entity, keys []string, opts ...WriteOption) error
	// Remove retracts keys from id; empty keys retracts every key the
	// store currently holds for id.
	Remove(ctx context.Context, id string, keys []string, opts ...WriteOption) error
	// RemoveMultiple removes several items in one event; an empty list
	// removes every item.
	RemoveMultiple(ctx context.Context, items []RemoveItem, opts ...WriteOption) error
	Snapshot(ctx context.Context) (ir.Snapshot, error)
	Restore(snap ir.Snapshot) error
}

// RemoveItem names one item of a RemoveMultiple call.
type RemoveItem struct {
	ID   string   `json:"id"`
	Keys []string `json:"keys"`
}
