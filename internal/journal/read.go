package journal

import (
	"context"
	"fmt"

	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/store"
)

// Checkpoint is a recorded store snapshot.
type Checkpoint struct {
	StoreID  string
	Version  int64
	Hash     string
	Snapshot ir.Snapshot
}

// Stores returns every store declaration in registration order.
//
// Returns an empty slice (not nil) for an empty journal.
func (j *Journal) Stores(ctx context.Context) ([]StoreRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, kind, reference_mode, entity_type
		FROM stores
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query stores: %w", err)
	}
	defer rows.Close()

	records := []StoreRecord{}
	for rows.Next() {
		var rec StoreRecord
		var kind string
		if err := rows.Scan(&rec.ID, &kind, &rec.ReferenceMode, &rec.EntityType); err != nil {
			return nil, fmt.Errorf("scan store: %w", err)
		}
		if rec.Kind, err = store.ParseKind(kind); err != nil {
			return nil, fmt.Errorf("store %s: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stores: %w", err)
	}
	return records, nil
}

// Events returns the events of storeID in version order.
func (j *Journal) Events(ctx context.Context, storeID string) ([]store.Event, error) {
	return j.queryEvents(ctx, `
		SELECT payload FROM events
		WHERE store_id = ?
		ORDER BY version ASC
	`, storeID)
}

// AllEvents returns every event in the order it was recorded.
func (j *Journal) AllEvents(ctx context.Context) ([]store.Event, error) {
	return j.queryEvents(ctx, `
		SELECT payload FROM events
		ORDER BY seq ASC
	`)
}

func (j *Journal) queryEvents(ctx context.Context, query string, args ...any) ([]store.Event, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []store.Event{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev, err := unmarshalEvent(payload)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Checkpoints returns the checkpoints of storeID in version order.
func (j *Journal) Checkpoints(ctx context.Context, storeID string) ([]Checkpoint, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT store_id, version, hash, model
		FROM checkpoints
		WHERE store_id = ?
		ORDER BY version ASC
	`, storeID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	out := []Checkpoint{}
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return out, nil
}

// LatestCheckpoint returns the newest checkpoint of storeID. ok is false
// when none exists.
func (j *Journal) LatestCheckpoint(ctx context.Context, storeID string) (cp Checkpoint, ok bool, err error) {
	all, err := j.Checkpoints(ctx, storeID)
	if err != nil {
		return Checkpoint{}, false, err
	}
	if len(all) == 0 {
		return Checkpoint{}, false, nil
	}
	return all[len(all)-1], true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scanner) (Checkpoint, error) {
	var cp Checkpoint
	var model string
	if err := row.Scan(&cp.StoreID, &cp.Version, &cp.Hash, &model); err != nil {
		return Checkpoint{}, fmt.Errorf("scan checkpoint: %w", err)
	}
	snap, err := unmarshalSnapshot(model)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint %s@%d: %w", cp.StoreID, cp.Version, err)
	}
	cp.Snapshot = snap
	return cp, nil
}
