package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/cellsync/internal/ir"
)

// revisionField carries the content hash of the backing entity inside a
// pointer. A pointer resolves only against a backing value with the same
// hash, and a changed value behind an unchanged id still changes the
// pointer store's model.
const revisionField = "revision"

// BackingID returns the id under which a reference-mode store files id in
// its backing store. Backing stores are shared by entity type, so ids are
// qualified by the owning store.
func BackingID(storeID, id string) string {
	return storeID + "/" + id
}

// refBase is the plumbing shared by reference-mode Variables and
// Collections: a backing Collection holding full entities, a hold queue
// for pointer events whose entities are not committed yet, and a wakeup
// channel for readers waiting on either store.
//
// writeMu serializes writes so the backing value and the pointer move
// together: a pointer event is always examined before the next write
// replaces its backing value.
type refBase struct {
	core
	storageKey string
	backing    *Collection

	writeMu sync.Mutex
	held    []Event
	waitMu  sync.Mutex
	wake    chan struct{}
}

func (r *refBase) initRef(ptr Observable, storageKey string, backing *Collection) {
	r.init(ptr.ID(), ptr.Kind(), backing.ids)
	r.storageKey = storageKey
	r.backing = backing
	r.wake = make(chan struct{})
	r.version = ptr.Version()

	backing.Subscribe(r.onBacking)
	ptr.Subscribe(r.onPointer)
}

// StorageKey names the backing store holding the full entities.
func (r *refBase) StorageKey() string { return r.storageKey }

// Reference returns the reference to id's entity in the backing store.
func (r *refBase) Reference(id string) ir.Reference {
	return ir.Reference{ID: BackingID(r.id, id), StorageKey: r.storageKey}
}

// commitBacking files value in the backing store under a single witness
// key per entity, so repeated writes never grow its key set.
func (r *refBase) commitBacking(value ir.Entity) error {
	bid := BackingID(r.id, value.ID)
	if err := r.backing.storeAs(bid, value, []string{bid}, writeConfig{}); err != nil {
		return fmt.Errorf("reference %s: %w", r.id, err)
	}
	return nil
}

// pointerFor builds the pointer recorded for value.
func (r *refBase) pointerFor(value ir.Entity) (ir.Entity, error) {
	rev, err := ir.EntityHash(value)
	if err != nil {
		return ir.Entity{}, fmt.Errorf("pointer for %s: %w", value.ID, err)
	}
	p := value.Reference(r.storageKey).Pointer()
	p.Data = ir.IRObject{revisionField: ir.IRString(rev)}
	return p, nil
}

// deref resolves a pointer against the backing store. Non-pointer entities
// pass through unchanged. A backing value whose hash differs from the
// pointer's revision is not the committed value for that pointer.
func (r *refBase) deref(e ir.Entity) (ir.Entity, bool) {
	if !e.IsPointer() {
		return e, true
	}
	v, ok := r.backing.lookup(BackingID(r.id, e.ID))
	if !ok {
		return ir.Entity{}, false
	}
	if want, ok := e.Field(revisionField).(ir.IRString); ok {
		got, err := ir.EntityHash(v)
		if err != nil || got != string(want) {
			return ir.Entity{}, false
		}
	}
	return v, true
}

func (r *refBase) derefEvent(ev Event) (Event, bool) {
	out := ev
	if ev.Data != nil {
		v, ok := r.deref(*ev.Data)
		if !ok {
			return Event{}, false
		}
		out.Data = &v
	}
	var ok bool
	if out.Add, ok = r.derefChanges(ev.Add); !ok {
		return Event{}, false
	}
	if out.Remove, ok = r.derefChanges(ev.Remove); !ok {
		return Event{}, false
	}
	return out, true
}

func (r *refBase) derefChanges(changes []Change) ([]Change, bool) {
	if changes == nil {
		return nil, true
	}
	out := make([]Change, len(changes))
	for i, ch := range changes {
		v, ok := r.deref(ch.Value)
		if !ok {
			return nil, false
		}
		ch.Value = v
		out[i] = ch
	}
	return out, true
}

func (r *refBase) onPointer(ev Event) {
	r.mu.Lock()
	r.held = append(r.held, ev)
	r.releaseLocked()
	r.mu.Unlock()
	r.flush()
	r.broadcast()
}

func (r *refBase) onBacking(Event) {
	r.mu.Lock()
	r.releaseLocked()
	r.mu.Unlock()
	r.flush()
	r.broadcast()
}

// broadcast wakes every reader blocked in await.
func (r *refBase) broadcast() {
	r.waitMu.Lock()
	close(r.wake)
	r.wake = make(chan struct{})
	r.waitMu.Unlock()
}

// releaseLocked delivers held events in order, stopping at the first one
// whose entities are still missing from the backing store.
func (r *refBase) releaseLocked() {
	for len(r.held) > 0 {
		ev, ok := r.derefEvent(r.held[0])
		if !ok {
			return
		}
		r.held = r.held[1:]
		r.version = ev.Version
		r.enqueue(ev)
	}
}

// await calls try until it reports done, blocking on pointer or backing
// changes in between.
func (r *refBase) await(ctx context.Context, try func() (bool, error)) error {
	for {
		r.waitMu.Lock()
		wake := r.wake
		r.waitMu.Unlock()

		done, err := try()
		if err != nil || done {
			return err
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return fmt.Errorf("waiting for backing store %s: %w", r.storageKey, ctx.Err())
		}
	}
}

// RefVariable is a reference-mode Variable.
type RefVariable struct {
	refBase
	ptr *Variable
}

func newRefVariable(ptr *Variable, storageKey string, backing *Collection) *RefVariable {
	v := &RefVariable{ptr: ptr}
	v.initRef(ptr, storageKey, backing)
	return v
}

// Get returns the dereferenced value, waiting until the backing entity is
// committed.
func (v *RefVariable) Get(ctx context.Context) (*ir.Entity, error) {
	var out *ir.Entity
	err := v.await(ctx, func() (bool, error) {
		p, err := v.ptr.Get(ctx)
		if err != nil || p == nil {
			out = nil
			return true, err
		}
		e, ok := v.deref(*p)
		if ok {
			out = &e
		}
		return ok, nil
	})
	return out, err
}

// Set writes value to the backing store, then records its pointer.
func (v *RefVariable) Set(ctx context.Context, value ir.Entity, opts ...WriteOption) error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()

	cfg := newWriteConfig(opts)
	if cfg.barrier == "" {
		if cur, ok := v.current(); ok && cur.Equal(value) {
			return nil
		}
	}
	ptr, err := v.pointerFor(value)
	if err != nil {
		return fmt.Errorf("reference variable %s: %w", v.id, err)
	}
	if err := v.commitBacking(value); err != nil {
		return err
	}
	return v.ptr.Set(ctx, ptr, opts...)
}

// Clear empties the pointer. The backing entity is left in place.
func (v *RefVariable) Clear(ctx context.Context, opts ...WriteOption) error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	return v.ptr.Clear(ctx, opts...)
}

func (v *RefVariable) current() (ir.Entity, bool) {
	p, _ := v.ptr.Get(context.Background())
	if p == nil {
		return ir.Entity{}, false
	}
	return v.deref(*p)
}

// Snapshot returns the dereferenced snapshot.
func (v *RefVariable) Snapshot(ctx context.Context) (ir.Snapshot, error) {
	var out ir.Snapshot
	err := v.await(ctx, func() (bool, error) {
		snap, err := v.ptr.Snapshot(ctx)
		if err != nil {
			return true, err
		}
		rows, ok := v.derefRows(snap.Model)
		out = ir.Snapshot{Model: rows, Version: snap.Version}
		return ok, nil
	})
	return out, err
}

// Restore writes the snapshot's entities to the backing store and restores
// the pointer store.
func (v *RefVariable) Restore(snap ir.Snapshot) error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()

	val := snap.VariableValue()
	if val == nil {
		return v.restorePointer(v.ptr, snap)
	}
	ptr, err := v.pointerFor(*val)
	if err != nil {
		return fmt.Errorf("restore reference variable %s: %w", v.id, err)
	}
	if err := v.commitBacking(*val); err != nil {
		return err
	}
	return v.restorePointer(v.ptr, ir.VariableSnapshot(&ptr, snap.Version))
}

// RefCollection is a reference-mode Collection.
type RefCollection struct {
	refBase
	ptr *Collection
}

func newRefCollection(ptr *Collection, storageKey string, backing *Collection) *RefCollection {
	c := &RefCollection{ptr: ptr}
	c.initRef(ptr, storageKey, backing)
	return c
}

// Get returns the dereferenced entity with id, or nil.
func (c *RefCollection) Get(ctx context.Context, id string) (*ir.Entity, error) {
	var out *ir.Entity
	err := c.await(ctx, func() (bool, error) {
		p, err := c.ptr.Get(ctx, id)
		if err != nil || p == nil {
			out = nil
			return true, err
		}
		e, ok := c.deref(*p)
		if ok {
			out = &e
		}
		return ok, nil
	})
	return out, err
}

// List returns dereferenced entities, waiting until every one is committed.
func (c *RefCollection) List(ctx context.Context) ([]ir.Entity, error) {
	var out []ir.Entity
	err := c.await(ctx, func() (bool, error) {
		ptrs, err := c.ptr.List(ctx)
		if err != nil {
			return true, err
		}
		out = make([]ir.Entity, 0, len(ptrs))
		for _, p := range ptrs {
			e, ok := c.deref(p)
			if !ok {
				return false, nil
			}
			out = append(out, e)
		}
		return true, nil
	})
	return out, err
}

// Keys returns the pointer store's witness keys for id.
func (c *RefCollection) Keys(id string) []string {
	return c.ptr.Keys(id)
}

// Store writes value to the backing store, then records its pointer under
// keys.
func (c *RefCollection) Store(ctx context.Context, value ir.Entity, keys []string, opts ...WriteOption) error {
	if len(keys) == 0 {
		return fmt.Errorf("store %s into %s: %w", value.ID, c.id, ErrNoKeys)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ptr, err := c.pointerFor(value)
	if err != nil {
		return fmt.Errorf("reference collection %s: %w", c.id, err)
	}
	if err := c.commitBacking(value); err != nil {
		return err
	}
	return c.ptr.Store(ctx, ptr, keys, opts...)
}

// Remove retracts the pointer. The backing entity is left in place.
func (c *RefCollection) Remove(ctx context.Context, id string, keys []string, opts ...WriteOption) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ptr.Remove(ctx, id, keys, opts...)
}

// RemoveMultiple retracts several pointers under one version.
func (c *RefCollection) RemoveMultiple(ctx context.Context, items []RemoveItem, opts ...WriteOption) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ptr.RemoveMultiple(ctx, items, opts...)
}

// Snapshot returns the dereferenced snapshot.
func (c *RefCollection) Snapshot(ctx context.Context) (ir.Snapshot, error) {
	var out ir.Snapshot
	err := c.await(ctx, func() (bool, error) {
		snap, err := c.ptr.Snapshot(ctx)
		if err != nil {
			return true, err
		}
		rows, ok := c.derefRows(snap.Model)
		out = ir.Snapshot{Model: rows, Version: snap.Version}
		return ok, nil
	})
	return out, err
}

// Restore writes the snapshot's entities to the backing store and restores
// the pointer store.
func (c *RefCollection) Restore(snap ir.Snapshot) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	rows := make([]ir.ModelEntry, 0, len(snap.Model))
	for _, row := range snap.Model {
		ptr, err := c.pointerFor(row.Value)
		if err != nil {
			return fmt.Errorf("restore reference collection %s: %w", c.id, err)
		}
		if err := c.commitBacking(row.Value); err != nil {
			return err
		}
		rows = append(rows, ir.ModelEntry{ID: row.ID, Value: ptr, Keys: row.Keys})
	}
	return c.restorePointer(c.ptr, ir.Snapshot{Model: rows, Version: snap.Version})
}

func (r *refBase) derefRows(rows []ir.ModelEntry) ([]ir.ModelEntry, bool) {
	out := make([]ir.ModelEntry, 0, len(rows))
	for _, row := range rows {
		v, ok := r.deref(row.Value)
		if !ok {
			return nil, false
		}
		row.Value = v
		out = append(out, row)
	}
	return out, true
}

func (r *refBase) restorePointer(ptr interface{ Restore(ir.Snapshot) error }, snap ir.Snapshot) error {
	if err := ptr.Restore(snap); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.held = nil
	r.version = snap.Version
	return nil
}
