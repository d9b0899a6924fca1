package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/cellsync/internal/ids"
	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/store"
)

// Proxy is the surface every proxy kind shares.
type Proxy interface {
	StoreID() string
	Kind() store.Kind
	Register(ctx context.Context, obs Observer) error
	Deregister(obs Observer)
}

// Config carries the collaborators every proxy needs.
type Config struct {
	Port      Port
	Scheduler *Scheduler
	IDs       ids.Generator
	Metrics   *Metrics
	Logger    *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.IDs == nil {
		c.IDs = ids.UUIDv7Generator{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Scheduler == nil {
		c.Scheduler = NewScheduler(WithLogger(c.Logger), WithMetrics(c.Metrics))
	}
	return c
}

// New creates the proxy matching kind.
func New(storeID string, kind store.Kind, cfg Config) (Proxy, error) {
	switch kind {
	case store.KindVariable:
		return NewVariableProxy(storeID, cfg), nil
	case store.KindCollection:
		return NewCollectionProxy(storeID, cfg), nil
	case store.KindBigCollection:
		return NewBigCollectionProxy(storeID, cfg), nil
	default:
		return nil, fmt.Errorf("proxy for %q: unsupported kind %s", storeID, kind)
	}
}

// base holds the registration and sync bookkeeping shared by Variable and
// Collection proxies. The kind-specific proxy supplies the model.
type base struct {
	storeID string
	kind    store.Kind
	cfg     Config

	mu          sync.Mutex
	observers   []Observer
	initialized bool
	keepSynced  bool
	state       SyncState
	version     int64
	hasVersion  bool
	pending     []store.Event
}

func (b *base) setup(storeID string, kind store.Kind, cfg Config) {
	b.storeID = storeID
	b.kind = kind
	b.cfg = cfg.withDefaults()
}

// StoreID returns the id of the proxied store.
func (b *base) StoreID() string { return b.storeID }

// Kind returns the kind of the proxied store.
func (b *base) Kind() store.Kind { return b.kind }

// State returns the current sync state.
func (b *base) State() SyncState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Version returns the last version applied to the local model.
func (b *base) Version() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// registerLocked adds obs and reports which port calls the caller must make
// once the lock is released.
func (b *base) registerLocked(obs Observer) (initialize, synchronize bool) {
	b.observers = append(b.observers, obs)
	if !b.initialized {
		b.initialized = true
		initialize = true
	}
	if obs.Options().KeepSynced && !b.keepSynced {
		b.keepSynced = true
		if b.state == Unsynchronized {
			b.state = SynchronizingRequested
			synchronize = true
		}
	}
	return initialize, synchronize
}

// Deregister removes obs. Pending notifications already queued for it are
// still delivered.
func (b *base) Deregister(obs Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = slices.DeleteFunc(b.observers, func(o Observer) bool { return o == obs })
}

// connect issues the port calls decided by registerLocked.
func (b *base) connect(ctx context.Context, initialize, synchronize bool, onEvent EventFunc, onSync SyncFunc) error {
	if initialize {
		if err := b.cfg.Port.InitializeProxy(ctx, b.storeID, onEvent); err != nil {
			return fmt.Errorf("initialize proxy %s: %w", b.storeID, err)
		}
	}
	if synchronize {
		return b.requestSync(ctx, onSync)
	}
	return nil
}

func (b *base) requestSync(ctx context.Context, onSync SyncFunc) error {
	if err := b.cfg.Port.SynchronizeProxy(ctx, b.storeID, onSync); err != nil {
		return fmt.Errorf("synchronize proxy %s: %w", b.storeID, err)
	}
	return nil
}

// requestSyncAsync re-requests a snapshot from inside an event callback,
// where there is no caller to return an error to.
func (b *base) requestSyncAsync(onSync SyncFunc) {
	if err := b.requestSync(context.Background(), onSync); err != nil {
		b.cfg.Logger.Error("resync request failed", "store", b.storeID, "error", err)
	}
}

// notifyLocked schedules n for every observer selected by want.
func (b *base) notifyLocked(n Notification, want func(Options) bool) {
	n.StoreID = b.storeID
	for _, obs := range b.observers {
		if !want(obs.Options()) {
			continue
		}
		b.schedule(obs, n)
	}
}

func (b *base) schedule(obs Observer, n Notification) {
	n.StoreID = b.storeID
	b.cfg.Scheduler.Enqueue(Task{
		Name: fmt.Sprintf("%s:%s:%s", n.Kind, obs.ParticleID(), b.storeID),
		Fn:   func() error { return obs.Notify(n) },
	})
}

// Dereference resolves ref through the port against the store that owns
// the backing entity, never against this proxy's model, so an entity that
// is committed but not yet visible at the proxy's sync point still
// resolves.
func (b *base) Dereference(ctx context.Context, ref ir.Reference) (ir.Entity, error) {
	return b.cfg.Port.Dereference(ctx, b.storeID, ref)
}

// cached reports whether reads may be served from the local model.
func (b *base) cached() bool {
	return b.keepSynced && b.state == Synchronized
}

// acceptEventLocked queues ev for ordered processing. Reports false when the
// proxy does not keep a synchronized model or ev is already applied.
func (b *base) acceptEventLocked(ev store.Event) bool {
	if !b.keepSynced {
		return false
	}
	if b.hasVersion && ev.Version <= b.version {
		b.cfg.Logger.Debug("dropping stale event", "store", b.storeID, "version", ev.Version, "local", b.version)
		b.cfg.Metrics.suppressed(b.storeID)
		return false
	}
	b.pending = append(b.pending, ev)
	slices.SortStableFunc(b.pending, func(x, y store.Event) int {
		switch {
		case x.Version < y.Version:
			return -1
		case x.Version > y.Version:
			return 1
		}
		return 0
	})
	return true
}

// acceptSyncLocked decides whether a snapshot at version should be adopted.
// A stale response is discarded; if updates are still gapped the caller
// must request another snapshot.
func (b *base) acceptSyncLocked(version int64) (adopt, resync bool) {
	if b.hasVersion && version <= b.version {
		b.cfg.Logger.Debug("discarding stale sync response", "store", b.storeID, "version", version, "local", b.version)
		b.cfg.Metrics.staleSync(b.storeID)
		return false, len(b.pending) > 0 && b.state != Synchronized
	}
	return true, false
}

// adoptedLocked records a successful snapshot adoption.
func (b *base) adoptedLocked(version int64) {
	b.version = version
	b.hasVersion = true
	b.state = Synchronized
	b.pending = slices.DeleteFunc(b.pending, func(ev store.Event) bool { return ev.Version <= version })
}

// processLocked applies every pending event that is next in sequence.
// isNext and apply are supplied by the kind-specific proxy; isNext must
// reject every event until a version is known. Reports
// whether the caller must re-request a snapshot.
func (b *base) processLocked(isNext func(store.Event) bool, apply func(store.Event)) (resync bool) {
	for len(b.pending) > 0 && isNext(b.pending[0]) {
		ev := b.pending[0]
		b.pending = b.pending[1:]
		apply(ev)
		b.version = ev.Version
		b.cfg.Metrics.applied(b.storeID)
	}

	switch {
	case len(b.pending) > 0 && b.state == Synchronized:
		b.cfg.Logger.Info("proxy desynchronized", "store", b.storeID, "local", b.version, "next", b.pending[0].Version)
		b.cfg.Metrics.desync(b.storeID)
		b.state = Desynchronized
		b.notifyLocked(Notification{Kind: NotifyDesync, Version: b.version}, func(o Options) bool { return o.NotifyDesync })
		return true
	case len(b.pending) == 0 && b.hasVersion && b.state != Synchronized:
		b.cfg.Logger.Debug("proxy caught up before sync response", "store", b.storeID, "version", b.version)
		b.state = Synchronized
	}
	return false
}
