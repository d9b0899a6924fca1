package journal

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/store"
)

// ErrHashMismatch is returned when a replayed store does not hash to the
// checkpoint recorded at the same version.
var ErrHashMismatch = errors.New("checkpoint hash mismatch")

// ReplayResult summarizes a replay.
type ReplayResult struct {
	Manager  *store.Manager
	Stores   int
	Events   int
	Verified int
}

// Replay rebuilds every journaled store from its full event history and
// verifies each checkpoint as the replay passes its version. opts configure
// the new Manager; reference mode follows each store's declaration.
func (j *Journal) Replay(ctx context.Context, opts ...store.ManagerOption) (*ReplayResult, error) {
	m, records, err := j.declare(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	res := &ReplayResult{Manager: m, Stores: len(records)}

	want := make(map[string]map[int64]string, len(records))
	for _, rec := range records {
		cps, err := j.Checkpoints(ctx, rec.ID)
		if err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
		byVersion := make(map[int64]string, len(cps))
		for _, cp := range cps {
			byVersion[cp.Version] = cp.Hash
		}
		want[rec.ID] = byVersion

		ok, err := verify(ctx, m, rec.ID, 0, byVersion)
		if err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
		if ok {
			res.Verified++
		}
	}

	events, err := j.AllEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	for _, ev := range events {
		if err := Apply(ctx, m, ev); err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
		res.Events++
		ok, err := verify(ctx, m, ev.StoreID, ev.Version, want[ev.StoreID])
		if err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
		if ok {
			res.Verified++
		}
	}

	j.logger.Info("journal replayed", "stores", res.Stores, "events", res.Events, "verified", res.Verified)
	return res, nil
}

// Load rebuilds every journaled store from its latest checkpoint plus the
// events recorded after it.
func (j *Journal) Load(ctx context.Context, opts ...store.ManagerOption) (*ReplayResult, error) {
	m, records, err := j.declare(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	res := &ReplayResult{Manager: m, Stores: len(records)}

	for _, rec := range records {
		from := int64(0)
		cp, ok, err := j.LatestCheckpoint(ctx, rec.ID)
		if err != nil {
			return nil, fmt.Errorf("load: %w", err)
		}
		if ok {
			if err := m.Restore(rec.ID, cp.Snapshot); err != nil {
				return nil, fmt.Errorf("load: %w", err)
			}
			from = cp.Version
		}

		events, err := j.Events(ctx, rec.ID)
		if err != nil {
			return nil, fmt.Errorf("load: %w", err)
		}
		for _, ev := range events {
			if ev.Version <= from {
				continue
			}
			if err := Apply(ctx, m, ev); err != nil {
				return nil, fmt.Errorf("load: %w", err)
			}
			res.Events++
		}
	}
	return res, nil
}

// declare creates a Manager holding an empty store per declaration.
func (j *Journal) declare(ctx context.Context, opts []store.ManagerOption) (*store.Manager, []StoreRecord, error) {
	records, err := j.Stores(ctx)
	if err != nil {
		return nil, nil, err
	}
	m := store.NewManager(append([]store.ManagerOption{store.WithReferenceMode(true)}, opts...)...)
	for _, rec := range records {
		var sopts []store.StoreOption
		if !rec.ReferenceMode {
			sopts = append(sopts, store.WithReferences())
		}
		if rec.EntityType != "" {
			sopts = append(sopts, store.WithEntityType(rec.EntityType))
		}
		if _, err := m.Create(rec.ID, rec.Kind, sopts...); err != nil {
			return nil, nil, err
		}
	}
	return m, records, nil
}

func verify(ctx context.Context, m *store.Manager, storeID string, version int64, want map[int64]string) (bool, error) {
	hash, ok := want[version]
	if !ok {
		return false, nil
	}
	snap, err := m.Snapshot(ctx, storeID)
	if err != nil {
		return false, err
	}
	got, err := ir.SnapshotHash(snap)
	if err != nil {
		return false, err
	}
	if got != hash {
		return false, fmt.Errorf("%s@%d: %w (journal %s, replay %s)", storeID, version, ErrHashMismatch, hash, got)
	}
	return true, nil
}

// Apply re-issues ev against its store in m, pinned to ev's version and
// originator.
func Apply(ctx context.Context, m *store.Manager, ev store.Event) error {
	opts := []store.WriteOption{store.WithVersion(ev.Version), store.WithOriginator(ev.OriginatorID)}
	if ev.Barrier != "" {
		opts = append(opts, store.WithBarrier(ev.Barrier))
	}

	var err error
	switch ev.Kind {
	case store.KindVariable:
		err = applyVariable(ctx, m, ev, opts)
	case store.KindCollection:
		err = applyCollection(ctx, m, ev, opts)
	case store.KindBigCollection:
		err = applyBigCollection(ctx, m, ev, opts)
	default:
		err = fmt.Errorf("unknown kind %s", ev.Kind)
	}
	if err != nil {
		return fmt.Errorf("apply %s@%d: %w", ev.StoreID, ev.Version, err)
	}
	return nil
}

func applyVariable(ctx context.Context, m *store.Manager, ev store.Event, opts []store.WriteOption) error {
	v, err := m.Variable(ev.StoreID)
	if err != nil {
		return err
	}
	if ev.Data == nil {
		return v.Clear(ctx, opts...)
	}
	return v.Set(ctx, *ev.Data, opts...)
}

func applyCollection(ctx context.Context, m *store.Manager, ev store.Event, opts []store.WriteOption) error {
	c, err := m.Collection(ev.StoreID)
	if err != nil {
		return err
	}
	switch {
	case len(ev.Add) > 0:
		for _, ch := range ev.Add {
			if err := c.Store(ctx, ch.Value, ch.Keys, opts...); err != nil {
				return err
			}
		}
		return nil
	case len(ev.Remove) > 0:
		items := make([]store.RemoveItem, 0, len(ev.Remove))
		for _, ch := range ev.Remove {
			items = append(items, store.RemoveItem{ID: ch.Value.ID, Keys: ch.Keys})
		}
		return c.RemoveMultiple(ctx, items, opts...)
	default:
		return bumpVersion(ctx, m, ev)
	}
}

func applyBigCollection(ctx context.Context, m *store.Manager, ev store.Event, opts []store.WriteOption) error {
	b, err := m.BigCollection(ev.StoreID)
	if err != nil {
		return err
	}
	for _, ch := range ev.Add {
		if err := b.Store(ctx, ch.Value, ch.Keys, opts...); err != nil {
			return err
		}
	}
	for _, ch := range ev.Remove {
		if err := b.Remove(ctx, ch.Value.ID, ch.Keys, opts...); err != nil {
			return err
		}
	}
	if len(ev.Add)+len(ev.Remove) == 0 {
		return bumpVersion(ctx, m, ev)
	}
	return nil
}

// bumpVersion replays an event that changed nothing but the version, such
// as clearing an already empty collection.
func bumpVersion(ctx context.Context, m *store.Manager, ev store.Event) error {
	snap, err := m.Snapshot(ctx, ev.StoreID)
	if err != nil {
		return err
	}
	snap.Version = ev.Version
	return m.Restore(ev.StoreID, snap)
}
