package proxy

import (
	"context"

	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/store"
)

// EventFunc receives store change events pushed through a Port.
type EventFunc func(store.Event)

// SyncFunc receives a snapshot answering SynchronizeProxy.
type SyncFunc func(ir.Snapshot)

// Port is the channel RPC surface a proxy talks to.
//
// InitializeProxy and SynchronizeProxy answer through their callbacks,
// possibly after the call has returned; every other method answers in its
// return values. Writes carry the writing particle's id as originator.
//
// Implemented by channel.LocalPort (in-process stores), channel.Recorder
// (trace wrapper) and the harness's scripted port.
type Port interface {
	InitializeProxy(ctx context.Context, storeID string, onEvent EventFunc) error
	SynchronizeProxy(ctx context.Context, storeID string, onSync SyncFunc) error

	HandleGet(ctx context.Context, storeID string) (*ir.Entity, error)
	HandleToList(ctx context.Context, storeID string) ([]ir.Entity, error)

	HandleSet(ctx context.Context, storeID string, value ir.Entity, originator, barrier string) error
	HandleClear(ctx context.Context, storeID, originator, barrier string) error

	HandleStore(ctx context.Context, storeID string, value ir.Entity, keys []string, originator string) error
	HandleRemove(ctx context.Context, storeID, id string, keys []string, originator string) error
	HandleRemoveMultiple(ctx context.Context, storeID string, items []store.RemoveItem, originator string) error

	HandleStream(ctx context.Context, storeID string, pageSize int, forward bool) (cursorID string, version int64, err error)
	StreamCursorNext(ctx context.Context, storeID, cursorID string) (store.Page, error)
	StreamCursorClose(ctx context.Context, storeID, cursorID string) error

	// Dereference resolves ref for a handle on storeID. It fails only when
	// the storage key is unknown or the backing store lacks the entity.
	Dereference(ctx context.Context, storeID string, ref ir.Reference) (ir.Entity, error)
}
