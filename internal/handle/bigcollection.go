package handle

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/cellsync/internal/ids"
	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/proxy"
	"github.com/roach88/cellsync/internal/store"
)

// BigCollectionBackend is what a BigCollection handle needs from its
// proxy. *proxy.BigCollectionProxy and *proxy.NoOp satisfy it.
type BigCollectionBackend interface {
	proxy.Proxy
	Store(ctx context.Context, value ir.Entity, keys []string, particleID string) error
	Remove(ctx context.Context, id string, keys []string, particleID string) error
	Stream(ctx context.Context, pageSize int, forward bool) (string, int64, error)
	CursorNext(ctx context.Context, cursorID string) (store.Page, error)
	CursorClose(ctx context.Context, cursorID string) error
}

// BigCollection is a handle onto a store too large to mirror locally.
// Reads happen through cursors; options cannot be configured.
type BigCollection struct {
	base
	backend BigCollectionBackend
}

// NewBigCollection binds p to backend.
func NewBigCollection(p Particle, backend BigCollectionBackend, caps Capabilities, gen ids.Generator) *BigCollection {
	h := &BigCollection{backend: backend}
	h.setup(h, p, backend.StoreID(), store.KindBigCollection, caps, gen)
	return h
}

// Configure always fails.
func (h *BigCollection) Configure(map[string]bool) error {
	return fmt.Errorf("configure %s: %w", h.storeID, ErrNotConfigurable)
}

// SetOptions always fails.
func (h *BigCollection) SetOptions(proxy.Options) error {
	return fmt.Errorf("configure %s: %w", h.storeID, ErrNotConfigurable)
}

// Store adds value under a fresh witness key.
func (h *BigCollection) Store(ctx context.Context, value ir.Entity) error {
	if err := h.checkWrite("store"); err != nil {
		return err
	}
	if value.ID == "" {
		value.ID = h.ids.New()
	}
	if err := h.backend.Store(ctx, value, []string{h.ids.New()}, h.particle.ID()); err != nil {
		return fmt.Errorf("store %s: %w", h.storeID, err)
	}
	return nil
}

// Remove deletes id. BigCollection handles keep no local keys, so every
// key is retracted.
func (h *BigCollection) Remove(ctx context.Context, id string) error {
	if err := h.checkWrite("remove"); err != nil {
		return err
	}
	if err := h.backend.Remove(ctx, id, nil, h.particle.ID()); err != nil {
		return fmt.Errorf("remove %s: %w", h.storeID, err)
	}
	return nil
}

// Stream opens a cursor over the collection as of now. forward selects
// insertion order; otherwise newest first.
func (h *BigCollection) Stream(ctx context.Context, pageSize int, forward bool) (*Cursor, error) {
	if err := h.checkRead("stream"); err != nil {
		return nil, err
	}
	if pageSize < 1 {
		return nil, fmt.Errorf("stream %s: %w", h.storeID, ErrInvalidPageSize)
	}
	id, version, err := h.backend.Stream(ctx, pageSize, forward)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", h.storeID, err)
	}
	return &Cursor{backend: h.backend, id: id, version: version}, nil
}

// Cursor pages through a BigCollection snapshot.
type Cursor struct {
	backend BigCollectionBackend
	id      string
	version int64

	mu   sync.Mutex
	done bool
}

// Version returns the store version the cursor was opened at.
func (c *Cursor) Version() int64 { return c.version }

// Next returns the next page. Once done is true the cursor is released and
// further calls return an empty page.
func (c *Cursor) Next(ctx context.Context) ([]ir.Entity, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return nil, true, nil
	}
	page, err := c.backend.CursorNext(ctx, c.id)
	if err != nil {
		return nil, false, fmt.Errorf("cursor %s: %w", c.id, err)
	}
	c.done = page.Done
	return page.Items, page.Done, nil
}

// Close releases the cursor early. Closing a finished cursor is a no-op.
func (c *Cursor) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return nil
	}
	c.done = true
	if err := c.backend.CursorClose(ctx, c.id); err != nil {
		return fmt.Errorf("close cursor %s: %w", c.id, err)
	}
	return nil
}
