package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/roach88/cellsync/internal/ids"
	"github.com/roach88/cellsync/internal/ir"
)

type bigItem struct {
	index int64
	value ir.Entity
	keys  []string
}

// Page is one batch of a streamed read.
type Page struct {
	Items []ir.Entity `json:"items"`
	Done  bool        `json:"done"`
}

// cursor is pinned to the ids and values present at capture time.
type cursor struct {
	version  int64
	pageSize int
	ids      []string
	values   map[string]ir.Entity
	pos      int
}

// BigCollection holds collections too large to synchronize. Readers page
// through it with cursors instead of mirroring it.
//
// Each item remembers the version at which it was last stored; cursors
// order by that index, so re-storing an id moves it only for cursors
// created afterwards.
type BigCollection struct {
	core
	items   map[string]*bigItem
	cursors map[string]*cursor
}

// NewBigCollection creates an empty BigCollection at version 0.
func NewBigCollection(id string, gen ids.Generator) *BigCollection {
	b := &BigCollection{
		items:   make(map[string]*bigItem),
		cursors: make(map[string]*cursor),
	}
	b.init(id, KindBigCollection, gen)
	return b
}

// Get returns a copy of the entity with id, or nil.
func (b *BigCollection) Get(_ context.Context, id string) (*ir.Entity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	it, ok := b.items[id]
	if !ok {
		return nil, nil
	}
	v := it.value.Clone()
	return &v, nil
}

// Size returns the number of items.
func (b *BigCollection) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Store inserts or replaces value and moves it to the end of the index
// order.
func (b *BigCollection) Store(_ context.Context, value ir.Entity, keys []string, opts ...WriteOption) error {
	if len(keys) == 0 {
		return fmt.Errorf("store %s into %s: %w", value.ID, b.id, ErrNoKeys)
	}
	cfg := newWriteConfig(opts)

	b.mu.Lock()
	it, existed := b.items[value.ID]
	if !existed {
		it = &bigItem{}
		b.items[value.ID] = it
	}
	changed := !existed || !it.value.Equal(value)
	for _, k := range keys {
		if !slices.Contains(it.keys, k) {
			it.keys = append(it.keys, k)
		}
	}
	it.value = value.Clone()
	ev := b.commit(Event{Add: []Change{{
		Value:      value.Clone(),
		Keys:       slices.Clone(keys),
		Effective:  true,
		Observable: changed,
	}}}, cfg)
	it.index = ev.Version
	b.mu.Unlock()
	b.flush()
	return nil
}

// Remove retracts keys from id, deleting the item once none remain. Empty
// keys deletes it outright. Removing an absent id is a no-op.
func (b *BigCollection) Remove(_ context.Context, id string, keys []string, opts ...WriteOption) error {
	cfg := newWriteConfig(opts)

	b.mu.Lock()
	it, ok := b.items[id]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	if len(keys) == 0 {
		keys = slices.Clone(it.keys)
	}
	before := len(it.keys)
	it.keys = slices.DeleteFunc(it.keys, func(k string) bool { return slices.Contains(keys, k) })
	gone := len(it.keys) == 0
	if gone {
		delete(b.items, id)
	}
	b.commit(Event{Remove: []Change{{
		Value:      it.value.Clone(),
		Keys:       keys,
		Effective:  len(it.keys) != before,
		Observable: gone,
	}}}, cfg)
	b.mu.Unlock()
	b.flush()
	return nil
}

// Stream captures the current items and version and returns a cursor id.
// Items are ordered by store index, oldest first, or newest first when
// forward is false.
func (b *BigCollection) Stream(pageSize int, forward bool) (string, error) {
	if pageSize < 1 {
		return "", ErrInvalidPageSize
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	order := make([]*bigItem, 0, len(b.items))
	for _, it := range b.items {
		order = append(order, it)
	}
	sortByIndex(order)
	if !forward {
		slices.Reverse(order)
	}

	cur := &cursor{
		version:  b.version,
		pageSize: pageSize,
		ids:      make([]string, 0, len(order)),
		values:   make(map[string]ir.Entity, len(order)),
	}
	for _, it := range order {
		cur.ids = append(cur.ids, it.value.ID)
		cur.values[it.value.ID] = it.value.Clone()
	}

	id := b.ids.New()
	b.cursors[id] = cur
	return id, nil
}

// CursorNext returns the next page. Ids removed since capture are skipped;
// pages are still filled up to pageSize from later ids. An exhausted,
// closed or unknown cursor returns Done with no items, and an exhausted
// cursor is released.
func (b *BigCollection) CursorNext(cursorID string) Page {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur, ok := b.cursors[cursorID]
	if !ok {
		return Page{Items: []ir.Entity{}, Done: true}
	}

	items := make([]ir.Entity, 0, cur.pageSize)
	for cur.pos < len(cur.ids) && len(items) < cur.pageSize {
		id := cur.ids[cur.pos]
		cur.pos++
		if _, present := b.items[id]; !present {
			continue
		}
		items = append(items, cur.values[id])
	}
	if len(items) == 0 {
		delete(b.cursors, cursorID)
		return Page{Items: items, Done: true}
	}
	return Page{Items: items}
}

// CursorClose releases a cursor early.
func (b *BigCollection) CursorClose(cursorID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cursors, cursorID)
}

// CursorVersion returns the version a live cursor was captured at.
func (b *BigCollection) CursorVersion(cursorID string) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.cursors[cursorID]
	if !ok {
		return 0, false
	}
	return cur.version, true
}

// Snapshot returns the items in index order with their keys.
func (b *BigCollection) Snapshot(context.Context) (ir.Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	order := make([]*bigItem, 0, len(b.items))
	for _, it := range b.items {
		order = append(order, it)
	}
	sortByIndex(order)

	model := make([]ir.ModelEntry, 0, len(order))
	for _, it := range order {
		model = append(model, ir.ModelEntry{ID: it.value.ID, Value: it.value.Clone(), Keys: slices.Clone(it.keys)})
	}
	return ir.Snapshot{Model: model, Version: b.version}, nil
}

// Restore replaces items and version without notifying listeners. Items
// are re-indexed in row order, all at or below the restored version, and
// open cursors are dropped.
func (b *BigCollection) Restore(snap ir.Snapshot) error {
	items := make(map[string]*bigItem, len(snap.Model))
	base := snap.Version - int64(len(snap.Model))
	for i, e := range snap.Model {
		if len(e.Keys) == 0 {
			return fmt.Errorf("restore bigcollection %s: entry %q: %w", b.id, e.ID, ErrNoKeys)
		}
		items[e.ID] = &bigItem{index: base + int64(i) + 1, value: e.Value.Clone(), keys: slices.Clone(e.Keys)}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = items
	b.cursors = make(map[string]*cursor)
	b.version = snap.Version
	return nil
}

func sortByIndex(items []*bigItem) {
	slices.SortFunc(items, func(x, y *bigItem) int { return cmp.Compare(x.index, y.index) })
}
