package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/cellsync/internal/channel"
	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/proxy"
	"github.com/roach88/cellsync/internal/store"
)

// ErrNoPendingSync is returned by Answer when no proxy is waiting for a
// snapshot of the store.
var ErrNoPendingSync = errors.New("no pending synchronize request")

// ScriptedPort serves reads and writes from the arc's stores like
// channel.LocalPort, but lets the scenario decide when snapshots are
// answered and which events reach the proxies.
//
// Thread-safety: ScriptedPort is safe for concurrent use.
type ScriptedPort struct {
	*channel.LocalPort
	stores   *store.Manager
	sched    *proxy.Scheduler
	trace    *Trace
	autoSync bool

	mu       sync.Mutex
	handlers map[string][]proxy.EventFunc
	subs     []subscription
	pending  map[string][]proxy.SyncFunc
	dropping map[string]bool
}

type subscription struct {
	store store.Observable
	token store.Subscription
}

// NewScriptedPort wraps local. With autoSync, synchronize requests are
// answered as soon as they arrive.
func NewScriptedPort(local *channel.LocalPort, stores *store.Manager, sched *proxy.Scheduler, trace *Trace, autoSync bool) *ScriptedPort {
	return &ScriptedPort{
		LocalPort: local,
		stores:    stores,
		sched:     sched,
		trace:     trace,
		autoSync:  autoSync,
		handlers:  make(map[string][]proxy.EventFunc),
		pending:   make(map[string][]proxy.SyncFunc),
		dropping:  make(map[string]bool),
	}
}

// InitializeProxy forwards the store's events to onEvent unless they are
// being dropped.
func (p *ScriptedPort) InitializeProxy(_ context.Context, storeID string, onEvent proxy.EventFunc) error {
	s, err := p.stores.Lookup(storeID)
	if err != nil {
		return proxy.NewProtocolError(proxy.ErrCodeUnknownStore, "InitializeProxy", storeID, err)
	}

	p.mu.Lock()
	_, watched := p.handlers[storeID]
	p.handlers[storeID] = append(p.handlers[storeID], onEvent)
	p.mu.Unlock()

	if !watched {
		token := s.Subscribe(p.forward)
		p.mu.Lock()
		p.subs = append(p.subs, subscription{store: s, token: token})
		p.mu.Unlock()
	}
	return nil
}

func (p *ScriptedPort) forward(ev store.Event) {
	p.mu.Lock()
	if p.dropping[ev.StoreID] {
		p.mu.Unlock()
		p.trace.Add("port drop %s@%d", ev.StoreID, ev.Version)
		return
	}
	handlers := slices.Clone(p.handlers[ev.StoreID])
	p.mu.Unlock()

	p.trace.Add("port event %s@%d", ev.StoreID, ev.Version)
	for _, h := range handlers {
		h := h
		p.sched.Enqueue(proxy.Task{
			Name: fmt.Sprintf("event:%s@%d", ev.StoreID, ev.Version),
			Fn: func() error {
				h(ev)
				return nil
			},
		})
	}
}

// SynchronizeProxy parks onSync until Answer, or answers at once with
// autoSync.
func (p *ScriptedPort) SynchronizeProxy(ctx context.Context, storeID string, onSync proxy.SyncFunc) error {
	if _, err := p.stores.Lookup(storeID); err != nil {
		return proxy.NewProtocolError(proxy.ErrCodeUnknownStore, "SynchronizeProxy", storeID, err)
	}
	if p.autoSync {
		return p.respond(ctx, storeID, []proxy.SyncFunc{onSync})
	}

	p.mu.Lock()
	p.pending[storeID] = append(p.pending[storeID], onSync)
	p.mu.Unlock()
	p.trace.Add("port sync-requested %s", storeID)
	return nil
}

// Pending returns the number of unanswered synchronize requests for
// storeID.
func (p *ScriptedPort) Pending(storeID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending[storeID])
}

// Answer responds to every pending synchronize request for storeID with
// the store's current snapshot.
func (p *ScriptedPort) Answer(ctx context.Context, storeID string) error {
	p.mu.Lock()
	waiting := p.pending[storeID]
	delete(p.pending, storeID)
	p.mu.Unlock()

	if len(waiting) == 0 {
		return fmt.Errorf("answer %s: %w", storeID, ErrNoPendingSync)
	}
	return p.respond(ctx, storeID, waiting)
}

func (p *ScriptedPort) respond(ctx context.Context, storeID string, waiting []proxy.SyncFunc) error {
	snap, err := p.stores.Snapshot(ctx, storeID)
	if err != nil {
		return fmt.Errorf("answer %s: %w", storeID, err)
	}
	for _, onSync := range waiting {
		onSync := onSync
		p.trace.Add("port sync %s@%d", storeID, snap.Version)
		p.sched.Enqueue(proxy.Task{
			Name: fmt.Sprintf("sync:%s@%d", storeID, snap.Version),
			Fn: func() error {
				onSync(cloneSnapshot(snap))
				return nil
			},
		})
	}
	return nil
}

// Dropping withholds every event of storeID from the proxies while fn
// runs.
func (p *ScriptedPort) Dropping(storeID string, fn func() error) error {
	p.mu.Lock()
	p.dropping[storeID] = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.dropping, storeID)
		p.mu.Unlock()
	}()
	return fn()
}

// Close drops the port's event subscriptions.
func (p *ScriptedPort) Close() error {
	p.mu.Lock()
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	for _, s := range subs {
		s.store.Unsubscribe(s.token)
	}
	return nil
}

func cloneSnapshot(s ir.Snapshot) ir.Snapshot {
	model := make([]ir.ModelEntry, len(s.Model))
	for i, e := range s.Model {
		model[i] = ir.ModelEntry{ID: e.ID, Value: e.Value.Clone(), Keys: slices.Clone(e.Keys)}
	}
	return ir.Snapshot{Model: model, Version: s.Version}
}
