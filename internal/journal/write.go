package journal

import (
	"context"
	"fmt"

	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/store"
)

// StoreRecord declares a journaled store.
type StoreRecord struct {
	ID            string
	Kind          store.Kind
	ReferenceMode bool
	EntityType    string
}

// RegisterStore records a store declaration. Uses ON CONFLICT(id) DO
// NOTHING, so re-registering is a no-op.
func (j *Journal) RegisterStore(ctx context.Context, rec StoreRecord) error {
	j.mu.Lock()
	j.seq++
	seq := j.seq
	j.mu.Unlock()

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO stores (id, kind, reference_mode, entity_type, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, rec.ID, rec.Kind.String(), rec.ReferenceMode, rec.EntityType, seq)
	if err != nil {
		return fmt.Errorf("register store %s: %w", rec.ID, err)
	}
	return nil
}

// Record appends ev. A second event for the same (store, version) is
// silently ignored.
func (j *Journal) Record(ctx context.Context, ev store.Event) error {
	payload, err := marshalEvent(ev)
	if err != nil {
		return fmt.Errorf("record %s@%d: %w", ev.StoreID, ev.Version, err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO events (store_id, version, originator, barrier, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(store_id, version) DO NOTHING
	`, ev.StoreID, ev.Version, ev.OriginatorID, ev.Barrier, payload)
	if err != nil {
		return fmt.Errorf("record %s@%d: %w", ev.StoreID, ev.Version, err)
	}
	return nil
}

// Listener returns a store.Listener that records every event it sees.
// Failures are logged and kept for Err; they never reach the writer.
func (j *Journal) Listener() store.Listener {
	return func(ev store.Event) {
		if err := j.Record(context.Background(), ev); err != nil {
			j.logger.Error("journal write failed", "store", ev.StoreID, "version", ev.Version, "error", err)
			j.recordErr(err)
		}
	}
}

// Checkpoint records snap for storeID and returns its hash.
func (j *Journal) Checkpoint(ctx context.Context, storeID string, snap ir.Snapshot) (string, error) {
	hash, err := ir.SnapshotHash(snap)
	if err != nil {
		return "", fmt.Errorf("checkpoint %s: %w", storeID, err)
	}
	model, err := marshalSnapshot(snap)
	if err != nil {
		return "", fmt.Errorf("checkpoint %s: %w", storeID, err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO checkpoints (store_id, version, hash, model)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(store_id, version) DO NOTHING
	`, storeID, snap.Version, hash, model)
	if err != nil {
		return "", fmt.Errorf("checkpoint %s: %w", storeID, err)
	}
	j.logger.Debug("checkpoint written", "store", storeID, "version", snap.Version, "hash", hash)
	return hash, nil
}

// CheckpointAll snapshots every store in m.
func (j *Journal) CheckpointAll(ctx context.Context, m *store.Manager) error {
	for _, id := range m.IDs() {
		snap, err := m.Snapshot(ctx, id)
		if err != nil {
			return fmt.Errorf("checkpoint all: %w", err)
		}
		if _, err := j.Checkpoint(ctx, id, snap); err != nil {
			return err
		}
	}
	return nil
}
