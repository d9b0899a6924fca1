package handle

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/cellsync/internal/ids"
	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/proxy"
	"github.com/roach88/cellsync/internal/store"
)

// Capabilities says what a handle may do.
type Capabilities uint8

const (
	CanRead Capabilities = 1 << iota
	CanWrite

	ReadWrite = CanRead | CanWrite
)

// String returns "read", "write", "read|write" or "none".
func (c Capabilities) String() string {
	var parts []string
	if c&CanRead != 0 {
		parts = append(parts, "read")
	}
	if c&CanWrite != 0 {
		parts = append(parts, "write")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseCapabilities parses "read", "write" or "read|write".
func ParseCapabilities(s string) (Capabilities, error) {
	var c Capabilities
	for _, part := range strings.Split(s, "|") {
		switch strings.TrimSpace(part) {
		case "read":
			c |= CanRead
		case "write":
			c |= CanWrite
		default:
			return 0, fmt.Errorf("unknown capability %q (want read, write or read|write)", part)
		}
	}
	return c, nil
}

// Handle is the surface every handle kind shares.
type Handle interface {
	// Name returns the id of the store the handle is bound to.
	Name() string
	Kind() store.Kind
	Particle() Particle
	CanRead() bool
	CanWrite() bool
	Options() proxy.Options
}

// base implements proxy.Observer and the capability plumbing shared by
// every handle kind.
type base struct {
	self     Handle
	particle Particle
	storeID  string
	kind     store.Kind
	caps     Capabilities
	ids      ids.Generator

	mu   sync.Mutex
	opts proxy.Options
}

func (b *base) setup(self Handle, p Particle, storeID string, kind store.Kind, caps Capabilities, gen ids.Generator) {
	b.self = self
	b.particle = p
	b.storeID = storeID
	b.kind = kind
	b.caps = caps
	b.ids = gen
	if b.ids == nil {
		b.ids = ids.UUIDv7Generator{}
	}
	b.opts = proxy.DefaultOptions()
}

func (b *base) Name() string       { return b.storeID }
func (b *base) Kind() store.Kind   { return b.kind }
func (b *base) Particle() Particle { return b.particle }
func (b *base) CanRead() bool      { return b.caps&CanRead != 0 }
func (b *base) CanWrite() bool     { return b.caps&CanWrite != 0 }

// ParticleID implements proxy.Observer.
func (b *base) ParticleID() string { return b.particle.ID() }

// Readable implements proxy.Observer.
func (b *base) Readable() bool { return b.CanRead() }

// Options returns the handle's notification options.
func (b *base) Options() proxy.Options {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opts
}

// Configure overlays option flags, e.g. {"keepSynced": false}. Only
// readable handles may be configured, and only before they are connected.
func (b *base) Configure(flags map[string]bool) error {
	if !b.CanRead() {
		return fmt.Errorf("configure %s: %w", b.storeID, ErrNotReadable)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.opts.Apply(flags); err != nil {
		return fmt.Errorf("configure %s: %w", b.storeID, err)
	}
	return nil
}

// SetOptions replaces the options wholesale. Manifests use it after
// decoding an options block.
func (b *base) SetOptions(o proxy.Options) error {
	if !b.CanRead() {
		return fmt.Errorf("configure %s: %w", b.storeID, ErrNotReadable)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opts = o
	return nil
}

// Notify implements proxy.Observer by forwarding to the particle.
func (b *base) Notify(n proxy.Notification) error {
	switch n.Kind {
	case proxy.NotifySync:
		return b.particle.OnHandleSync(b.self, Sync{Version: n.Version, Data: n.Data, List: n.List})
	case proxy.NotifyUpdate:
		return b.particle.OnHandleUpdate(b.self, Update{
			Version:    n.Version,
			Data:       n.Data,
			Added:      n.Added,
			Removed:    n.Removed,
			Originator: n.OriginatorID != "" && n.OriginatorID == b.particle.ID(),
		})
	case proxy.NotifyDesync:
		return b.particle.OnHandleDesync(b.self)
	default:
		return fmt.Errorf("handle %s: unknown notification %s", b.storeID, n.Kind)
	}
}

func (b *base) checkRead(op string) error {
	if !b.CanRead() {
		return fmt.Errorf("%s %s: %w", op, b.storeID, ErrNotReadable)
	}
	return nil
}

func (b *base) checkWrite(op string) error {
	if !b.CanWrite() {
		return fmt.Errorf("%s %s: %w", op, b.storeID, ErrNotWritable)
	}
	return nil
}

// Dereferencer resolves explicit references, typically ones read from a
// store of Reference entities.
type Dereferencer interface {
	Dereference(ctx context.Context, ref ir.Reference) (ir.Entity, error)
}

func (b *base) dereference(ctx context.Context, d Dereferencer, ref ir.Reference) (ir.Entity, error) {
	if err := b.checkRead("dereference"); err != nil {
		return ir.Entity{}, err
	}
	e, err := d.Dereference(ctx, ref)
	if err != nil {
		return ir.Entity{}, fmt.Errorf("dereference %s via %s: %w", ref.ID, b.storeID, err)
	}
	return e, nil
}
