package store

import (
	"sync"
	"testing"

	"github.com/roach88/cellsync/internal/ids"
	"github.com/roach88/cellsync/internal/ir"
)

// recorder collects events delivered to a listener.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) versions() []int64 {
	var out []int64
	for _, ev := range r.all() {
		out = append(out, ev.Version)
	}
	return out
}

func entity(id, value string) ir.Entity {
	return ir.NewEntity(id, ir.Fields("value", value))
}

func testGen(t *testing.T) ids.Generator {
	t.Helper()
	return ids.NewSequenceGenerator("tok")
}
