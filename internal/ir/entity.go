package ir

import (
	"bytes"
	"fmt"
)

// Entity is an identified field map. Entities are immutable once stored:
// writers replace an entity wholesale rather than mutating it in place.
//
// An Entity with a non-empty StorageKey is a pointer written by a
// reference-mode store; its Data is empty and the full entity lives in the
// backing store named by StorageKey.
type Entity struct {
	ID         string   `json:"id"`
	Data       IRObject `json:"data,omitempty"`
	StorageKey string   `json:"storage_key,omitempty"`
}

// NewEntity returns an entity with the given id and fields.
func NewEntity(id string, data IRObject) Entity {
	return Entity{ID: id, Data: data}
}

// IsPointer reports whether e is a reference-mode pointer.
func (e Entity) IsPointer() bool {
	return e.StorageKey != ""
}

// Reference returns the weak pointer to e inside storageKey.
func (e Entity) Reference(storageKey string) Reference {
	return Reference{ID: e.ID, StorageKey: storageKey}
}

// Field returns the named field, or nil if absent.
func (e Entity) Field(name string) IRValue {
	return e.Data[name]
}

// Clone returns a deep copy of e.
func (e Entity) Clone() Entity {
	return Entity{ID: e.ID, Data: e.Data.Clone(), StorageKey: e.StorageKey}
}

// Equal reports whether two entities have the same id, storage key and
// field values. Field maps are compared by their sorted-key encoding so a
// nil map equals an empty one.
func (e Entity) Equal(o Entity) bool {
	if e.ID != o.ID || e.StorageKey != o.StorageKey {
		return false
	}
	a, errA := e.Data.MarshalJSON()
	b, errB := o.Data.MarshalJSON()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// String renders the entity for logs and traces.
func (e Entity) String() string {
	if e.IsPointer() {
		return fmt.Sprintf("%s@%s", e.ID, e.StorageKey)
	}
	data, err := e.Data.MarshalJSON()
	if err != nil {
		return e.ID
	}
	return fmt.Sprintf("%s%s", e.ID, data)
}

// EntityPtrEqual compares two optional entities; nil equals nil.
func EntityPtrEqual(a, b *Entity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// Reference is a weak pointer to an entity held in a backing store. It never
// owns the entity: the backing store controls its lifetime.
type Reference struct {
	ID         string `json:"id"`
	StorageKey string `json:"storage_key"`
}

// AsReference returns the reference a pointer entity stands for.
func (e Entity) AsReference() (Reference, bool) {
	if !e.IsPointer() {
		return Reference{}, false
	}
	return Reference{ID: e.ID, StorageKey: e.StorageKey}, true
}

// Pointer returns the pointer entity a reference-mode store records for r.
func (r Reference) Pointer() Entity {
	return Entity{ID: r.ID, StorageKey: r.StorageKey}
}
