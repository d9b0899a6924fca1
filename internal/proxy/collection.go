package proxy

import (
	"context"

	"github.com/roach88/cellsync/internal/crdt"
	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/store"
)

// CollectionProxy caches a Collection store in a CRDT model.
//
// While synchronized, local writes are applied to the model and notified
// at once. Every echo still goes through the model: a write already
// applied locally is an exact repeat and notifies nothing, while a write
// made before the proxy synchronized lands when its echo arrives.
type CollectionProxy struct {
	base
	model *crdt.CollectionModel
}

// NewCollectionProxy creates an unsynchronized proxy for storeID.
func NewCollectionProxy(storeID string, cfg Config) *CollectionProxy {
	p := &CollectionProxy{model: crdt.New()}
	p.setup(storeID, store.KindCollection, cfg)
	return p
}

// Register attaches obs. Non-readable handles are ignored.
func (p *CollectionProxy) Register(ctx context.Context, obs Observer) error {
	if !obs.Readable() {
		return nil
	}
	p.mu.Lock()
	initialize, synchronize := p.registerLocked(obs)
	if opts := obs.Options(); opts.wantsSync() && p.state == Synchronized {
		p.schedule(obs, Notification{Kind: NotifySync, Version: p.version, List: p.model.List()})
	}
	p.mu.Unlock()
	return p.connect(ctx, initialize, synchronize, p.onEvent, p.onSync)
}

func (p *CollectionProxy) onEvent(ev store.Event) {
	p.mu.Lock()
	if raw, ok := rawCollectionUpdate(ev); ok {
		for _, obs := range p.observers {
			if obs.Options().wantsRawUpdates() {
				p.schedule(obs, raw)
			}
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

// rawCollectionUpdate builds an update from the event's own observable
// flags, for handles that do not keep a synchronized model.
func rawCollectionUpdate(ev store.Event) (Notification, bool) {
	n := Notification{Kind: NotifyUpdate, Version: ev.Version, OriginatorID: ev.OriginatorID}
	for _, ch := range ev.Add {
		if ch.Observable {
			n.Added = append(n.Added, ch.Value.Clone())
		}
	}
	for _, ch := range ev.Remove {
		if ch.Observable {
			n.Removed = append(n.Removed, ch.Value.Clone())
		}
	}
	return n, len(n.Added)+len(n.Removed) > 0
}

func (p *CollectionProxy) isNext(ev store.Event) bool {
	return p.hasVersion && ev.Version == p.version+1
}

func (p *CollectionProxy) apply(ev store.Event) {
	n := Notification{Kind: NotifyUpdate, Version: ev.Version, OriginatorID: ev.OriginatorID}
	for _, ch := range ev.Add {
		effect, err := p.model.Add(ch.Value.ID, ch.Value, ch.Keys)
		if err != nil {
			p.cfg.Logger.Warn("ignoring malformed add", "store", p.storeID, "id", ch.Value.ID, "error", err)
			continue
		}
		if effect.Observable() {
			n.Added = append(n.Added, ch.Value.Clone())
		}
	}
	for _, ch := range ev.Remove {
		if p.model.Remove(ch.Value.ID, ch.Keys) == crdt.Removed {
			n.Removed = append(n.Removed, ch.Value.Clone())
		}
	}

	if len(n.Added)+len(n.Removed) == 0 {
		p.cfg.Metrics.suppressed(p.storeID)
		return
	}
	p.notifyLocked(n, Options.wantsUpdates)
}

func (p *CollectionProxy) onSync(snap ir.Snapshot) {
	p.mu.Lock()
	adopt, resync := p.acceptSyncLocked(snap.Version)
	if adopt {
		model, err := crdt.FromLiteral(snap.Model)
		if err != nil {
			p.cfg.Logger.Error("rejecting malformed sync response", "store", p.storeID, "version", snap.Version, "error", err)
			p.mu.Unlock()
			return
		}
		p.model = model
		p.adoptedLocked(snap.Version)
		p.notifyLocked(Notification{Kind: NotifySync, Version: snap.Version, List: model.List()}, Options.wantsSync)
		resync = p.processLocked(p.isNext, p.apply)
	}
	p.mu.Unlock()

	if resync {
		p.requestSyncAsync(p.onSync)
	}
}

// List returns the cached entities when synchronized, otherwise asks the
// port.
func (p *CollectionProxy) List(ctx context.Context) ([]ir.Entity, error) {
	p.mu.Lock()
	if p.cached() {
		l := p.model.List()
		p.mu.Unlock()
		return l, nil
	}
	p.mu.Unlock()
	return p.cfg.Port.HandleToList(ctx, p.storeID)
}

// GetByID returns the entity with id, or nil.
func (p *CollectionProxy) GetByID(ctx context.Context, id string) (*ir.Entity, error) {
	p.mu.Lock()
	if p.cached() {
		defer p.mu.Unlock()
		if v, ok := p.model.Value(id); ok {
			return &v, nil
		}
		return nil, nil
	}
	p.mu.Unlock()

	list, err := p.cfg.Port.HandleToList(ctx, p.storeID)
	if err != nil {
		return nil, err
	}
	for _, e := range list {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, nil
}

// Store adds value under keys on behalf of particleID.
func (p *CollectionProxy) Store(ctx context.Context, value ir.Entity, keys []string, particleID string) error {
	if err := p.cfg.Port.HandleStore(ctx, p.storeID, value, keys, particleID); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Synchronized {
		return nil
	}
	effect, err := p.model.Add(value.ID, value, keys)
	if err != nil {
		return err
	}
	if effect.Observable() {
		p.notifyLocked(Notification{Kind: NotifyUpdate, Version: p.version, Added: []ir.Entity{value.Clone()}, OriginatorID: particleID}, Options.wantsUpdates)
	}
	return nil
}

// Remove retracts keys from id on behalf of particleID. Empty keys means
// every key the proxy knows for id, or every key the store knows when the
// proxy is not synchronized.
func (p *CollectionProxy) Remove(ctx context.Context, id string, keys []string, particleID string) error {
	p.mu.Lock()
	synced := p.state == Synchronized
	value, present := p.model.Value(id)
	if synced && present && len(keys) == 0 {
		keys = p.model.Keys(id)
	}
	p.mu.Unlock()

	if err := p.cfg.Port.HandleRemove(ctx, p.storeID, id, keys, particleID); err != nil {
		return err
	}
	if !synced || !present {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Synchronized && p.model.Remove(id, keys) == crdt.Removed {
		p.notifyLocked(Notification{Kind: NotifyUpdate, Version: p.version, Removed: []ir.Entity{value}, OriginatorID: particleID}, Options.wantsUpdates)
	}
	return nil
}

// Clear removes every entity on behalf of particleID.
func (p *CollectionProxy) Clear(ctx context.Context, particleID string) error {
	p.mu.Lock()
	var items []store.RemoveItem
	synced := p.state == Synchronized
	if synced {
		for _, row := range p.model.Literal() {
			items = append(items, store.RemoveItem{ID: row.ID, Keys: row.Keys})
		}
	}
	p.mu.Unlock()

	if err := p.cfg.Port.HandleRemoveMultiple(ctx, p.storeID, items, particleID); err != nil {
		return err
	}
	if !synced {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Synchronized {
		return nil
	}
	var removed []ir.Entity
	for _, it := range items {
		value, ok := p.model.Value(it.ID)
		if ok && p.model.Remove(it.ID, it.Keys) == crdt.Removed {
			removed = append(removed, value)
		}
	}
	if len(removed) > 0 {
		p.notifyLocked(Notification{Kind: NotifyUpdate, Version: p.version, Removed: removed, OriginatorID: particleID}, Options.wantsUpdates)
	}
	return nil
}
