// Package crdt implements the add-wins observed-remove collection model
// shared by backing stores and proxies.
//
// Each id carries a value and a set of witness keys. An add contributes
// keys; a remove retracts the keys it observed. The id is present exactly
// while its witness set is non-empty, so two concurrent adds of the same id
// compose by key union and replaying an add is a no-op.
//
// The model is a plain value type: it is not safe for concurrent use and
// owners guard it with their own lock.
package crdt

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/cellsync/internal/ir"
)

// ErrNoKeys is returned when an add supplies an empty witness key set.
var ErrNoKeys = errors.New("crdt: at least one witness key is required")

// Effect describes what a mutation changed.
type Effect uint8

const (
	// NoChange means the mutation was an exact repeat or removed nothing.
	NoChange Effect = iota

	// KeysChanged means only the witness set changed; the id's presence and
	// value are unchanged.
	KeysChanged

	// ValueChanged means an existing id received a different value.
	ValueChanged

	// Inserted means the id was absent and is now present.
	Inserted

	// Removed means the id's last witness key was retracted.
	Removed
)

// Effective reports whether the mutation changed the model at all.
func (e Effect) Effective() bool {
	return e != NoChange
}

// Observable reports whether a reader of the item list can see the change.
// Key-only changes are effective but not observable.
func (e Effect) Observable() bool {
	return e == ValueChanged || e == Inserted || e == Removed
}

// String returns the effect name for logs and traces.
func (e Effect) String() string {
	switch e {
	case NoChange:
		return "none"
	case KeysChanged:
		return "keys"
	case ValueChanged:
		return "value"
	case Inserted:
		return "inserted"
	case Removed:
		return "removed"
	default:
		return fmt.Sprintf("effect(%d)", uint8(e))
	}
}

type item struct {
	value ir.Entity
	keys  []string
}

func (it *item) hasKey(k string) bool {
	return slices.Contains(it.keys, k)
}

// CollectionModel maps id → (value, witness-key set) and preserves insertion
// order of ids for List.
type CollectionModel struct {
	items map[string]*item
	order []string
}

// New returns an empty model.
func New() *CollectionModel {
	return &CollectionModel{items: make(map[string]*item)}
}

// FromLiteral rebuilds a model from its serialized rows, preserving row
// order. Every row must carry at least one key.
func FromLiteral(entries []ir.ModelEntry) (*CollectionModel, error) {
	m := New()
	for _, e := range entries {
		if len(e.Keys) == 0 {
			return nil, fmt.Errorf("entry %q: %w", e.ID, ErrNoKeys)
		}
		if _, exists := m.items[e.ID]; exists {
			return nil, fmt.Errorf("entry %q: duplicate id", e.ID)
		}
		m.items[e.ID] = &item{value: e.Value.Clone(), keys: dedupe(e.Keys)}
		m.order = append(m.order, e.ID)
	}
	return m, nil
}

// Add merges keys into id's witness set and replaces its value.
//
// Value is last-write-wins; presence is union-wins. An exact repeat
// returns NoChange.
func (m *CollectionModel) Add(id string, value ir.Entity, keys []string) (Effect, error) {
	if len(keys) == 0 {
		return NoChange, ErrNoKeys
	}

	it, ok := m.items[id]
	if !ok {
		m.items[id] = &item{value: value.Clone(), keys: dedupe(keys)}
		m.order = append(m.order, id)
		return Inserted, nil
	}

	effect := NoChange
	for _, k := range keys {
		if !it.hasKey(k) {
			it.keys = append(it.keys, k)
			effect = KeysChanged
		}
	}
	if !it.value.Equal(value) {
		it.value = value.Clone()
		effect = ValueChanged
	}
	return effect, nil
}

// Remove retracts keys from id's witness set. The id disappears only once
// the set is empty. Unknown ids and unknown keys are ignored.
func (m *CollectionModel) Remove(id string, keys []string) Effect {
	it, ok := m.items[id]
	if !ok {
		return NoChange
	}

	effect := NoChange
	for _, k := range keys {
		if i := slices.Index(it.keys, k); i >= 0 {
			it.keys = slices.Delete(it.keys, i, i+1)
			effect = KeysChanged
		}
	}
	if len(it.keys) == 0 {
		delete(m.items, id)
		if i := slices.Index(m.order, id); i >= 0 {
			m.order = slices.Delete(m.order, i, i+1)
		}
		return Removed
	}
	return effect
}

// Has reports whether id is present.
func (m *CollectionModel) Has(id string) bool {
	_, ok := m.items[id]
	return ok
}

// Value returns id's current value.
func (m *CollectionModel) Value(id string) (ir.Entity, bool) {
	it, ok := m.items[id]
	if !ok {
		return ir.Entity{}, false
	}
	return it.value.Clone(), true
}

// Keys returns a copy of id's witness keys in the order they were added.
func (m *CollectionModel) Keys(id string) []string {
	it, ok := m.items[id]
	if !ok {
		return nil
	}
	return slices.Clone(it.keys)
}

// Size returns the number of present ids.
func (m *CollectionModel) Size() int {
	return len(m.items)
}

// IDs returns present ids in insertion order.
func (m *CollectionModel) IDs() []string {
	return slices.Clone(m.order)
}

// List returns present values in insertion order. Never nil.
func (m *CollectionModel) List() []ir.Entity {
	out := make([]ir.Entity, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.items[id].value.Clone())
	}
	return out
}

// Literal serializes the model as {id, value, keys} rows in insertion order.
func (m *CollectionModel) Literal() []ir.ModelEntry {
	out := make([]ir.ModelEntry, 0, len(m.order))
	for _, id := range m.order {
		it := m.items[id]
		out = append(out, ir.ModelEntry{ID: id, Value: it.value.Clone(), Keys: slices.Clone(it.keys)})
	}
	return out
}

// Clone returns an independent copy of the model.
func (m *CollectionModel) Clone() *CollectionModel {
	out := New()
	for _, id := range m.order {
		it := m.items[id]
		out.items[id] = &item{value: it.value.Clone(), keys: slices.Clone(it.keys)}
		out.order = append(out.order, id)
	}
	return out
}

func dedupe(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}
