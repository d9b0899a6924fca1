package handle

import (
	"context"
	"fmt"

	"github.com/roach88/cellsync/internal/ids"
	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/proxy"
	"github.com/roach88/cellsync/internal/store"
)

// VariableBackend is what a Variable handle needs from its proxy.
// *proxy.VariableProxy and *proxy.NoOp satisfy it.
type VariableBackend interface {
	proxy.Proxy
	Get(ctx context.Context) (*ir.Entity, error)
	Set(ctx context.Context, value ir.Entity, particleID string) error
	Clear(ctx context.Context, particleID string) error
	Dereferencer
}

// Variable is a handle onto a single-entity store.
type Variable struct {
	base
	backend VariableBackend
}

// NewVariable binds p to backend. gen mints ids for entities written
// without one; nil uses UUIDv7.
func NewVariable(p Particle, backend VariableBackend, caps Capabilities, gen ids.Generator) *Variable {
	h := &Variable{backend: backend}
	h.setup(h, p, backend.StoreID(), store.KindVariable, caps, gen)
	return h
}

// Backend returns the proxy the handle writes through.
func (h *Variable) Backend() VariableBackend { return h.backend }

// Get returns the current value, or nil when the variable is empty.
func (h *Variable) Get(ctx context.Context) (*ir.Entity, error) {
	if err := h.checkRead("get"); err != nil {
		return nil, err
	}
	return h.backend.Get(ctx)
}

// Set replaces the value. An entity without an id is assigned a fresh one.
func (h *Variable) Set(ctx context.Context, value ir.Entity) error {
	if err := h.checkWrite("set"); err != nil {
		return err
	}
	if value.ID == "" {
		value.ID = h.ids.New()
	}
	if err := h.backend.Set(ctx, value, h.particle.ID()); err != nil {
		return fmt.Errorf("set %s: %w", h.storeID, err)
	}
	return nil
}

// Clear empties the variable.
func (h *Variable) Clear(ctx context.Context) error {
	if err := h.checkWrite("clear"); err != nil {
		return err
	}
	if err := h.backend.Clear(ctx, h.particle.ID()); err != nil {
		return fmt.Errorf("clear %s: %w", h.storeID, err)
	}
	return nil
}

// Dereference resolves ref through the handle's port.
func (h *Variable) Dereference(ctx context.Context, ref ir.Reference) (ir.Entity, error) {
	return h.dereference(ctx, h.backend, ref)
}
