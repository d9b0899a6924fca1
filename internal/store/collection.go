package store

import (
	"context"
	"fmt"

	"github.com/roach88/cellsync/internal/crdt"
	"github.com/roach88/cellsync/internal/ids"
	"github.com/roach88/cellsync/internal/ir"
)

// Collection is a versioned add-wins set of entities.
//
// Every Store and Remove call advances the version and emits an event, even
// when the CRDT model absorbed the write as a repeat; the event's Change
// flags tell readers whether anything moved.
type Collection struct {
	core
	model *crdt.CollectionModel
}

// NewCollection creates an empty Collection at version 0.
func NewCollection(id string, gen ids.Generator) *Collection {
	c := &Collection{model: crdt.New()}
	c.init(id, KindCollection, gen)
	return c
}

// Get returns a copy of the entity with id, or nil.
func (c *Collection) Get(_ context.Context, id string) (*ir.Entity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.model.Value(id)
	if !ok {
		return nil, nil
	}
	return &v, nil
}

// List returns the present entities in insertion order.
func (c *Collection) List(context.Context) ([]ir.Entity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model.List(), nil
}

// Keys returns the witness keys the store holds for id.
func (c *Collection) Keys(id string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model.Keys(id)
}

// Size returns the number of present entities.
func (c *Collection) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model.Size()
}

// Store adds value under the given witness keys.
func (c *Collection) Store(_ context.Context, value ir.Entity, keys []string, opts ...WriteOption) error {
	return c.storeAs(value.ID, value, keys, newWriteConfig(opts))
}

// storeAs files value under id, which may differ from value.ID. Backing
// stores use it to keep same-id entities of different stores apart.
func (c *Collection) storeAs(id string, value ir.Entity, keys []string, cfg writeConfig) error {
	c.mu.Lock()
	effect, err := c.model.Add(id, value, keys)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("store %s into %s: %w", id, c.id, err)
	}
	c.commit(Event{Add: []Change{newChange(value, keys, effect)}}, cfg)
	c.mu.Unlock()
	c.flush()
	return nil
}

// Remove retracts keys from id. Empty keys retracts every key the store
// holds. Removing an absent id is a no-op and emits nothing.
func (c *Collection) Remove(_ context.Context, id string, keys []string, opts ...WriteOption) error {
	cfg := newWriteConfig(opts)

	c.mu.Lock()
	change, ok := c.removeLocked(id, keys)
	if !ok {
		c.mu.Unlock()
		return nil
	}
	c.commit(Event{Remove: []Change{change}}, cfg)
	c.mu.Unlock()
	c.flush()
	return nil
}

// RemoveMultiple removes several items under one version. An empty list
// removes every item.
func (c *Collection) RemoveMultiple(_ context.Context, items []RemoveItem, opts ...WriteOption) error {
	cfg := newWriteConfig(opts)

	c.mu.Lock()
	if len(items) == 0 {
		for _, id := range c.model.IDs() {
			items = append(items, RemoveItem{ID: id})
		}
	}
	changes := make([]Change, 0, len(items))
	for _, it := range items {
		if change, ok := c.removeLocked(it.ID, it.Keys); ok {
			changes = append(changes, change)
		}
	}
	c.commit(Event{Remove: changes}, cfg)
	c.mu.Unlock()
	c.flush()
	return nil
}

func (c *Collection) removeLocked(id string, keys []string) (Change, bool) {
	value, ok := c.model.Value(id)
	if !ok {
		return Change{}, false
	}
	if len(keys) == 0 {
		keys = c.model.Keys(id)
	}
	effect := c.model.Remove(id, keys)
	return newChange(value, keys, effect), true
}

// Snapshot returns {model: [{id, value, keys}], version}.
func (c *Collection) Snapshot(context.Context) (ir.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ir.Snapshot{Model: c.model.Literal(), Version: c.version}, nil
}

// Restore replaces model and version without notifying listeners.
func (c *Collection) Restore(snap ir.Snapshot) error {
	model, err := crdt.FromLiteral(snap.Model)
	if err != nil {
		return fmt.Errorf("restore collection %s: %w", c.id, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = model
	c.version = snap.Version
	return nil
}

func newChange(value ir.Entity, keys []string, effect crdt.Effect) Change {
	return Change{
		Value:      value.Clone(),
		Keys:       append([]string(nil), keys...),
		Effective:  effect.Effective(),
		Observable: effect.Observable(),
	}
}

// lookup is Get without the context and pointer plumbing.
func (c *Collection) lookup(id string) (ir.Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model.Value(id)
}
