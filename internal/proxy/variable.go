package proxy

import (
	"context"
	"slices"

	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/store"
)

// VariableProxy caches a Variable store.
//
// Local writes take effect immediately and mint a barrier token. Until the
// store echoes the write carrying that barrier, other Variable events are
// skipped: their versions are consumed but their values are neither applied
// nor notified. This gives a writer read-your-own-write consistency without
// serializing writers.
type VariableProxy struct {
	base
	model   *ir.Entity
	barrier string
}

// NewVariableProxy creates an unsynchronized proxy for storeID.
func NewVariableProxy(storeID string, cfg Config) *VariableProxy {
	p := &VariableProxy{}
	p.setup(storeID, store.KindVariable, cfg)
	return p
}

// Register attaches obs. Non-readable handles are ignored.
func (p *VariableProxy) Register(ctx context.Context, obs Observer) error {
	if !obs.Readable() {
		return nil
	}
	p.mu.Lock()
	initialize, synchronize := p.registerLocked(obs)
	if opts := obs.Options(); opts.wantsSync() && p.state == Synchronized {
		p.schedule(obs, Notification{Kind: NotifySync, Version: p.version, Data: cloneEntity(p.model)})
	}
	p.mu.Unlock()
	return p.connect(ctx, initialize, synchronize, p.onEvent, p.onSync)
}

func (p *VariableProxy) onEvent(ev store.Event) {
	p.mu.Lock()
	for _, obs := range p.observers {
		if obs.Options().wantsRawUpdates() {
			p.schedule(obs, Notification{Kind: NotifyUpdate, Version: ev.Version, Data: cloneEntity(ev.Data), OriginatorID: ev.OriginatorID})
		}
	}
	resync := false
	if p.acceptEventLocked(ev) {
		resync = p.processLocked(p.isNext, p.apply)
	}
	p.mu.Unlock()

	if resync {
		p.requestSyncAsync(p.onSync)
	}
}

// isNext accepts the next version in sequence. While a barrier is
// pending and its echo is queued, every event up to the echo is next too:
// the echo supersedes them, so a gap in front of it needs no snapshot.
func (p *VariableProxy) isNext(ev store.Event) bool {
	if p.barrier != "" && p.echoQueued(ev.Version) {
		return true
	}
	return p.hasVersion && ev.Version == p.version+1
}

// echoQueued reports whether the pending barrier's echo is queued at or
// after version.
func (p *VariableProxy) echoQueued(version int64) bool {
	return slices.ContainsFunc(p.pending, func(ev store.Event) bool {
		return ev.Barrier == p.barrier && ev.Version >= version
	})
}

func (p *VariableProxy) apply(ev store.Event) {
	if p.barrier != "" {
		if ev.Barrier != p.barrier {
			p.cfg.Logger.Debug("skipping event behind pending barrier", "store", p.storeID, "version", ev.Version)
			p.cfg.Metrics.suppressed(p.storeID)
			return
		}
		p.barrier = ""
		p.hasVersion = true
		if p.state != Synchronized {
			p.state = Synchronized
			p.notifyLocked(Notification{Kind: NotifySync, Version: ev.Version, Data: cloneEntity(p.model)}, Options.wantsSync)
		}
		return
	}
	p.model = cloneEntity(ev.Data)
	p.notifyLocked(Notification{Kind: NotifyUpdate, Version: ev.Version, Data: cloneEntity(ev.Data), OriginatorID: ev.OriginatorID}, Options.wantsUpdates)
}

func (p *VariableProxy) onSync(snap ir.Snapshot) {
	p.mu.Lock()
	if p.barrier != "" {
		p.cfg.Logger.Debug("refusing sync response behind pending barrier", "store", p.storeID, "version", snap.Version)
		p.mu.Unlock()
		return
	}
	adopt, resync := p.acceptSyncLocked(snap.Version)
	if adopt {
		p.model = snap.VariableValue()
		p.adoptedLocked(snap.Version)
		p.notifyLocked(Notification{Kind: NotifySync, Version: snap.Version, Data: cloneEntity(p.model)}, Options.wantsSync)
		resync = p.processLocked(p.isNext, p.apply)
	}
	p.mu.Unlock()

	if resync {
		p.requestSyncAsync(p.onSync)
	}
}

// Get returns the cached value when synchronized, otherwise asks the port.
func (p *VariableProxy) Get(ctx context.Context) (*ir.Entity, error) {
	p.mu.Lock()
	if p.cached() {
		v := cloneEntity(p.model)
		p.mu.Unlock()
		return v, nil
	}
	p.mu.Unlock()
	return p.cfg.Port.HandleGet(ctx, p.storeID)
}

// Set writes value on behalf of particleID.
func (p *VariableProxy) Set(ctx context.Context, value ir.Entity, particleID string) error {
	return p.write(ctx, &value, particleID)
}

// Clear empties the Variable on behalf of particleID.
func (p *VariableProxy) Clear(ctx context.Context, particleID string) error {
	return p.write(ctx, nil, particleID)
}

func (p *VariableProxy) write(ctx context.Context, value *ir.Entity, particleID string) error {
	p.mu.Lock()
	if p.state == Synchronized && p.barrier == "" && ir.EntityPtrEqual(p.model, value) {
		// Redundant: the store drops it, so no barrier would ever echo.
		p.mu.Unlock()
		return p.send(ctx, value, particleID, "")
	}

	barrier := ""
	if p.initialized {
		barrier = p.cfg.IDs.New()
		p.barrier = barrier
	}
	p.model = cloneEntity(value)
	p.notifyLocked(Notification{Kind: NotifyUpdate, Version: p.version, Data: cloneEntity(value), OriginatorID: particleID}, Options.wantsUpdates)
	p.mu.Unlock()

	return p.send(ctx, value, particleID, barrier)
}

func (p *VariableProxy) send(ctx context.Context, value *ir.Entity, particleID, barrier string) error {
	if value == nil {
		return p.cfg.Port.HandleClear(ctx, p.storeID, particleID, barrier)
	}
	return p.cfg.Port.HandleSet(ctx, p.storeID, *value, particleID, barrier)
}

func cloneEntity(e *ir.Entity) *ir.Entity {
	if e == nil {
		return nil
	}
	c := e.Clone()
	return &c
}
