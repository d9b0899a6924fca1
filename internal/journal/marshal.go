package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/store"
)

// marshalJSON encodes v without HTML escaping so payloads stay readable in
// the database.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func marshalEvent(ev store.Event) (string, error) {
	data, err := marshalJSON(ev)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// unmarshalEvent decodes an event payload. Entity data goes through
// ir.IRObject.UnmarshalJSON, which rejects floats.
func unmarshalEvent(data string) (store.Event, error) {
	var ev store.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return store.Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return ev, nil
}

func marshalSnapshot(snap ir.Snapshot) (string, error) {
	data, err := marshalJSON(snap)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

func unmarshalSnapshot(data string) (ir.Snapshot, error) {
	var snap ir.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return ir.Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snap.Model == nil {
		snap.Model = []ir.ModelEntry{}
	}
	return snap, nil
}
