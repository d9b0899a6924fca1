// Package store holds the canonical, versioned backing stores that proxies
// synchronize against.
//
// Three store kinds exist:
//   - Variable: a single optional entity, last-write-wins
//   - Collection: a CRDT add-wins set of entities (see internal/crdt)
//   - BigCollection: an unsynchronized collection read through cursors
//
// # Versioning
//
// Every mutation advances the store's version by one and synchronously
// delivers an Event to each subscribed listener before the mutating call
// returns. Delivery is serialized per store, so listeners observe versions
// in increasing order. Listeners may read the store but must not write to
// it from inside the callback.
//
// WithVersion and WithoutEvent exist so tests can simulate reordered and
// dropped deliveries; production callers never pass them.
//
// # Reference mode
//
// Variables and Collections of plain entities are wrapped in reference
// mode by the Manager: the full entity goes to a shared backing Collection
// and the outer store only records {id, storage_key} pointers. Reads and
// events are dereferenced transparently.
//
// # Ownership
//
// A Manager owns every store of one arc. There are no package-level
// registries, so several arcs coexist in one process without cross-talk.
package store
