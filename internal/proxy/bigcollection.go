package proxy

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/store"
)

// BigCollectionProxy passes every operation through to the port. It is
// never synchronized and holds no model; readable handles get an empty
// sync notification on registration so particles see a uniform lifecycle.
type BigCollectionProxy struct {
	storeID string
	cfg     Config

	mu        sync.Mutex
	observers []Observer
}

// NewBigCollectionProxy creates a pass-through proxy for storeID.
func NewBigCollectionProxy(storeID string, cfg Config) *BigCollectionProxy {
	return &BigCollectionProxy{storeID: storeID, cfg: cfg.withDefaults()}
}

// StoreID returns the id of the proxied store.
func (p *BigCollectionProxy) StoreID() string { return p.storeID }

// Kind returns store.KindBigCollection.
func (p *BigCollectionProxy) Kind() store.Kind { return store.KindBigCollection }

// Register records obs and schedules its empty sync notification.
func (p *BigCollectionProxy) Register(_ context.Context, obs Observer) error {
	if !obs.Readable() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, obs)
	if obs.Options().NotifySync {
		n := Notification{Kind: NotifySync, StoreID: p.storeID, List: []ir.Entity{}}
		p.cfg.Scheduler.Enqueue(Task{
			Name: "sync:" + obs.ParticleID() + ":" + p.storeID,
			Fn:   func() error { return obs.Notify(n) },
		})
	}
	return nil
}

// Deregister removes obs.
func (p *BigCollectionProxy) Deregister(obs Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = slices.DeleteFunc(p.observers, func(o Observer) bool { return o == obs })
}

// Store forwards a store.
func (p *BigCollectionProxy) Store(ctx context.Context, value ir.Entity, keys []string, particleID string) error {
	return p.cfg.Port.HandleStore(ctx, p.storeID, value, keys, particleID)
}

// Remove forwards a remove.
func (p *BigCollectionProxy) Remove(ctx context.Context, id string, keys []string, particleID string) error {
	return p.cfg.Port.HandleRemove(ctx, p.storeID, id, keys, particleID)
}

// Stream opens a cursor and returns its id and capture version.
func (p *BigCollectionProxy) Stream(ctx context.Context, pageSize int, forward bool) (string, int64, error) {
	return p.cfg.Port.HandleStream(ctx, p.storeID, pageSize, forward)
}

// CursorNext fetches the next page of a cursor.
func (p *BigCollectionProxy) CursorNext(ctx context.Context, cursorID string) (store.Page, error) {
	return p.cfg.Port.StreamCursorNext(ctx, p.storeID, cursorID)
}

// CursorClose releases a cursor.
func (p *BigCollectionProxy) CursorClose(ctx context.Context, cursorID string) error {
	return p.cfg.Port.StreamCursorClose(ctx, p.storeID, cursorID)
}
