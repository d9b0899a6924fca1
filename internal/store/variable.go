package store

import (
	"context"
	"fmt"

	"github.com/roach88/cellsync/internal/ids"
	"github.com/roach88/cellsync/internal/ir"
)

// Variable holds at most one entity. Writes are last-write-wins.
type Variable struct {
	core
	value *ir.Entity
}

// NewVariable creates an empty Variable at version 0.
func NewVariable(id string, gen ids.Generator) *Variable {
	v := &Variable{}
	v.init(id, KindVariable, gen)
	return v
}

// Get returns a copy of the current value, or nil.
func (v *Variable) Get(context.Context) (*ir.Entity, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return cloneEntity(v.value), nil
}

// Set replaces the value.
//
// Writing the current value again without a barrier is dropped: the version
// does not move and no event fires. A barrier always produces an event
// because the proxy that minted it is waiting for the echo.
func (v *Variable) Set(_ context.Context, value ir.Entity, opts ...WriteOption) error {
	v.set(&value, newWriteConfig(opts))
	return nil
}

// Clear empties the Variable.
func (v *Variable) Clear(_ context.Context, opts ...WriteOption) error {
	v.set(nil, newWriteConfig(opts))
	return nil
}

func (v *Variable) set(value *ir.Entity, cfg writeConfig) {
	v.mu.Lock()
	if cfg.barrier == "" && ir.EntityPtrEqual(v.value, value) {
		v.mu.Unlock()
		return
	}
	v.value = cloneEntity(value)
	v.commit(Event{Data: cloneEntity(value)}, cfg)
	v.mu.Unlock()
	v.flush()
}

// Snapshot returns {model: [{id, value}] | [], version}.
func (v *Variable) Snapshot(context.Context) (ir.Snapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return ir.VariableSnapshot(cloneEntity(v.value), v.version), nil
}

// Restore replaces value and version from a snapshot without notifying
// listeners. Used by journal replay.
func (v *Variable) Restore(snap ir.Snapshot) error {
	if len(snap.Model) > 1 {
		return fmt.Errorf("restore variable %s: %d model rows, want at most 1", v.id, len(snap.Model))
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = cloneEntity(snap.VariableValue())
	v.version = snap.Version
	return nil
}

func cloneEntity(e *ir.Entity) *ir.Entity {
	if e == nil {
		return nil
	}
	c := e.Clone()
	return &c
}
