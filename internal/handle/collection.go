package handle

import (
	"context"
	"fmt"

	"github.com/roach88/cellsync/internal/ids"
	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/proxy"
	"github.com/roach88/cellsync/internal/store"
)

// CollectionBackend is what a Collection handle needs from its proxy.
// *proxy.CollectionProxy and *proxy.NoOp satisfy it.
type CollectionBackend interface {
	proxy.Proxy
	List(ctx context.Context) ([]ir.Entity, error)
	GetByID(ctx context.Context, id string) (*ir.Entity, error)
	Store(ctx context.Context, value ir.Entity, keys []string, particleID string) error
	Remove(ctx context.Context, id string, keys []string, particleID string) error
	Clear(ctx context.Context, particleID string) error
	Dereferencer
}

// Collection is a handle onto a set of entities.
type Collection struct {
	base
	backend CollectionBackend
}

// NewCollection binds p to backend. gen mints entity ids and the witness
// key attached to every Store.
func NewCollection(p Particle, backend CollectionBackend, caps Capabilities, gen ids.Generator) *Collection {
	h := &Collection{backend: backend}
	h.setup(h, p, backend.StoreID(), store.KindCollection, caps, gen)
	return h
}

// Backend returns the proxy the handle writes through.
func (h *Collection) Backend() CollectionBackend { return h.backend }

// List returns the members in insertion order.
func (h *Collection) List(ctx context.Context) ([]ir.Entity, error) {
	if err := h.checkRead("list"); err != nil {
		return nil, err
	}
	return h.backend.List(ctx)
}

// Get returns the member with the given id, or nil.
func (h *Collection) Get(ctx context.Context, id string) (*ir.Entity, error) {
	if err := h.checkRead("get"); err != nil {
		return nil, err
	}
	return h.backend.GetByID(ctx, id)
}

// Store adds or replaces value under a fresh witness key.
func (h *Collection) Store(ctx context.Context, value ir.Entity) error {
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

// Remove retracts every key the handle has observed for id.
func (h *Collection) Remove(ctx context.Context, id string) error {
	if err := h.checkWrite("remove"); err != nil {
		return err
	}
	if err := h.backend.Remove(ctx, id, nil, h.particle.ID()); err != nil {
		return fmt.Errorf("remove %s: %w", h.storeID, err)
	}
	return nil
}

// Clear removes every member.
func (h *Collection) Clear(ctx context.Context) error {
	if err := h.checkWrite("clear"); err != nil {
		return err
	}
	if err := h.backend.Clear(ctx, h.particle.ID()); err != nil {
		return fmt.Errorf("clear %s: %w", h.storeID, err)
	}
	return nil
}

// Dereference resolves ref through the handle's port.
func (h *Collection) Dereference(ctx context.Context, ref ir.Reference) (ir.Entity, error) {
	return h.dereference(ctx, h.backend, ref)
}
