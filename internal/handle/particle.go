package handle

import (
	"github.com/roach88/cellsync/internal/ir"
)

// Sync is the full model delivered by OnHandleSync: Data for Variables,
// List for Collections and BigCollections.
type Sync struct {
	Version int64
	Data    *ir.Entity
	List    []ir.Entity
}

// Update is one change delivered by OnHandleUpdate. Variables set Data;
// Collections set Added and Removed. Originator is true when the change
// was written by the receiving particle.
type Update struct {
	Version    int64
	Data       *ir.Entity
	Added      []ir.Entity
	Removed    []ir.Entity
	Originator bool
}

// Particle receives handle callbacks. Callbacks run one at a time from the
// arc's scheduler; an error is logged and does not stop delivery to other
// particles.
type Particle interface {
	ID() string
	OnHandleSync(h Handle, s Sync) error
	OnHandleUpdate(h Handle, u Update) error
	OnHandleDesync(h Handle) error
}
