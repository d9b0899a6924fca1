package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/proxy"
	"github.com/roach88/cellsync/internal/store"
)

// LocalPort answers proxy requests from an in-process store.Manager.
//
// Thread-safety: LocalPort is safe for concurrent use.
type LocalPort struct {
	stores *store.Manager
	sched  *proxy.Scheduler
	logger *slog.Logger

	mu     sync.Mutex
	subs   []subscription
	wg     sync.WaitGroup
	closed bool
}

type subscription struct {
	store store.Observable
	token store.Subscription
}

// LocalOption configures a LocalPort.
type LocalOption func(*LocalPort)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) LocalOption {
	return func(p *LocalPort) { p.logger = l }
}

// NewLocalPort serves stores, delivering callbacks through sched.
func NewLocalPort(stores *store.Manager, sched *proxy.Scheduler, opts ...LocalOption) *LocalPort {
	p := &LocalPort{
		stores: stores,
		sched:  sched,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Close drops every event subscription and waits for outstanding
// synchronize answers. Later requests fail with ErrClosed.
func (p *LocalPort) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	for _, s := range subs {
		s.store.Unsubscribe(s.token)
	}
	p.wg.Wait()
	return nil
}

func (p *LocalPort) checkOpen(op, storeID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return proxy.NewProtocolError(proxy.ErrCodeRejected, op, storeID, ErrClosed)
	}
	return nil
}

// InitializeProxy subscribes onEvent to the store's events.
func (p *LocalPort) InitializeProxy(_ context.Context, storeID string, onEvent proxy.EventFunc) error {
	const op = "InitializeProxy"
	if err := p.checkOpen(op, storeID); err != nil {
		return err
	}
	s, err := p.stores.Lookup(storeID)
	if err != nil {
		return protocolError(op, storeID, err)
	}
	token := s.Subscribe(func(ev store.Event) {
		p.sched.Enqueue(proxy.Task{
			Name: fmt.Sprintf("event:%s@%d", ev.StoreID, ev.Version),
			Fn: func() error {
				onEvent(ev)
				return nil
			},
		})
	})

	p.mu.Lock()
	p.subs = append(p.subs, subscription{store: s, token: token})
	p.mu.Unlock()

	p.logger.Debug("proxy initialized", "store", storeID, "version", s.Version())
	return nil
}

// SynchronizeProxy answers with a snapshot from a separate goroutine. The
// answer is queued as a scheduler task.
func (p *LocalPort) SynchronizeProxy(ctx context.Context, storeID string, onSync proxy.SyncFunc) error {
	const op = "SynchronizeProxy"
	if err := p.checkOpen(op, storeID); err != nil {
		return err
	}
	if _, err := p.stores.Lookup(storeID); err != nil {
		return protocolError(op, storeID, err)
	}

	p.sched.BeginCall()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sched.EndCall()

		snap, err := p.stores.Snapshot(context.WithoutCancel(ctx), storeID)
		if err != nil {
			p.logger.Error("synchronize failed", "store", storeID, "error", err)
			return
		}
		p.sched.Enqueue(proxy.Task{
			Name: fmt.Sprintf("sync:%s@%d", storeID, snap.Version),
			Fn: func() error {
				onSync(snap)
				return nil
			},
		})
	}()
	return nil
}

// HandleGet returns a Variable's value.
func (p *LocalPort) HandleGet(ctx context.Context, storeID string) (*ir.Entity, error) {
	const op = "HandleGet"
	if err := p.checkOpen(op, storeID); err != nil {
		return nil, err
	}
	v, err := p.stores.Variable(storeID)
	if err != nil {
		return nil, protocolError(op, storeID, err)
	}
	e, err := v.Get(ctx)
	if err != nil {
		return nil, protocolError(op, storeID, err)
	}
	return e, nil
}

// HandleToList returns a Collection's members.
func (p *LocalPort) HandleToList(ctx context.Context, storeID string) ([]ir.Entity, error) {
	const op = "HandleToList"
	if err := p.checkOpen(op, storeID); err != nil {
		return nil, err
	}
	c, err := p.stores.Collection(storeID)
	if err != nil {
		return nil, protocolError(op, storeID, err)
	}
	list, err := c.List(ctx)
	if err != nil {
		return nil, protocolError(op, storeID, err)
	}
	return list, nil
}

// HandleSet writes a Variable.
func (p *LocalPort) HandleSet(ctx context.Context, storeID string, value ir.Entity, originator, barrier string) error {
	const op = "HandleSet"
	if err := p.checkOpen(op, storeID); err != nil {
		return err
	}
	v, err := p.stores.Variable(storeID)
	if err != nil {
		return protocolError(op, storeID, err)
	}
	if err := v.Set(ctx, value, writeOptions(originator, barrier)...); err != nil {
		return protocolError(op, storeID, err)
	}
	return nil
}

// HandleClear empties a Variable or a Collection. Barriers apply to
// Variables only.
func (p *LocalPort) HandleClear(ctx context.Context, storeID, originator, barrier string) error {
	const op = "HandleClear"
	if err := p.checkOpen(op, storeID); err != nil {
		return err
	}
	kind, err := p.stores.Kind(storeID)
	if err != nil {
		return protocolError(op, storeID, err)
	}
	switch kind {
	case store.KindVariable:
		v, err := p.stores.Variable(storeID)
		if err != nil {
			return protocolError(op, storeID, err)
		}
		err = v.Clear(ctx, writeOptions(originator, barrier)...)
		if err != nil {
			return protocolError(op, storeID, err)
		}
	case store.KindCollection:
		c, err := p.stores.Collection(storeID)
		if err != nil {
			return protocolError(op, storeID, err)
		}
		if err := c.RemoveMultiple(ctx, nil, store.WithOriginator(originator)); err != nil {
			return protocolError(op, storeID, err)
		}
	default:
		return protocolError(op, storeID, fmt.Errorf("clear on %s: %w", kind, store.ErrTypeMismatch))
	}
	return nil
}

// HandleStore adds an entity to a Collection or BigCollection.
func (p *LocalPort) HandleStore(ctx context.Context, storeID string, value ir.Entity, keys []string, originator string) error {
	const op = "HandleStore"
	if err := p.checkOpen(op, storeID); err != nil {
		return err
	}
	w, err := p.collectionWriter(storeID)
	if err != nil {
		return protocolError(op, storeID, err)
	}
	if err := w.Store(ctx, value, keys, store.WithOriginator(originator)); err != nil {
		return protocolError(op, storeID, err)
	}
	return nil
}

// HandleRemove retracts keys from an item. Empty keys retracts all of them.
func (p *LocalPort) HandleRemove(ctx context.Context, storeID, id string, keys []string, originator string) error {
	const op = "HandleRemove"
	if err := p.checkOpen(op, storeID); err != nil {
		return err
	}
	w, err := p.collectionWriter(storeID)
	if err != nil {
		return protocolError(op, storeID, err)
	}
	if err := w.Remove(ctx, id, keys, store.WithOriginator(originator)); err != nil {
		return protocolError(op, storeID, err)
	}
	return nil
}

// HandleRemoveMultiple removes several items in one event. An empty list
// clears the Collection.
func (p *LocalPort) HandleRemoveMultiple(ctx context.Context, storeID string, items []store.RemoveItem, originator string) error {
	const op = "HandleRemoveMultiple"
	if err := p.checkOpen(op, storeID); err != nil {
		return err
	}
	c, err := p.stores.Collection(storeID)
	if err != nil {
		return protocolError(op, storeID, err)
	}
	if err := c.RemoveMultiple(ctx, items, store.WithOriginator(originator)); err != nil {
		return protocolError(op, storeID, err)
	}
	return nil
}

// HandleStream opens a cursor on a BigCollection.
func (p *LocalPort) HandleStream(_ context.Context, storeID string, pageSize int, forward bool) (string, int64, error) {
	const op = "HandleStream"
	if err := p.checkOpen(op, storeID); err != nil {
		return "", 0, err
	}
	b, err := p.stores.BigCollection(storeID)
	if err != nil {
		return "", 0, protocolError(op, storeID, err)
	}
	id, err := b.Stream(pageSize, forward)
	if err != nil {
		return "", 0, protocolError(op, storeID, err)
	}
	version, _ := b.CursorVersion(id)
	return id, version, nil
}

// StreamCursorNext returns the cursor's next page.
func (p *LocalPort) StreamCursorNext(_ context.Context, storeID, cursorID string) (store.Page, error) {
	const op = "StreamCursorNext"
	if err := p.checkOpen(op, storeID); err != nil {
		return store.Page{}, err
	}
	b, err := p.stores.BigCollection(storeID)
	if err != nil {
		return store.Page{}, protocolError(op, storeID, err)
	}
	return b.CursorNext(cursorID), nil
}

// StreamCursorClose releases a cursor.
func (p *LocalPort) StreamCursorClose(_ context.Context, storeID, cursorID string) error {
	const op = "StreamCursorClose"
	if err := p.checkOpen(op, storeID); err != nil {
		return err
	}
	b, err := p.stores.BigCollection(storeID)
	if err != nil {
		return protocolError(op, storeID, err)
	}
	b.CursorClose(cursorID)
	return nil
}

// Dereference resolves ref against the arc's backing stores on behalf of a
// handle on storeID. Backing writes land before their pointers, so any
// reference a handle has observed is already committed here.
func (p *LocalPort) Dereference(ctx context.Context, storeID string, ref ir.Reference) (ir.Entity, error) {
	const op = "Dereference"
	if err := p.checkOpen(op, storeID); err != nil {
		return ir.Entity{}, err
	}
	if _, err := p.stores.Lookup(storeID); err != nil {
		return ir.Entity{}, protocolError(op, storeID, err)
	}
	e, err := p.stores.Dereference(ctx, ref)
	if err != nil {
		return ir.Entity{}, protocolError(op, storeID, err)
	}
	return e, nil
}

// collectionWriter is the write surface Collections and BigCollections
// share.
type collectionWriter interface {
	Store(ctx context.Context, value ir.Entity, keys []string, opts ...store.WriteOption) error
	Remove(ctx context.Context, id string, keys []string, opts ...store.WriteOption) error
}

func (p *LocalPort) collectionWriter(storeID string) (collectionWriter, error) {
	s, err := p.stores.Lookup(storeID)
	if err != nil {
		return nil, err
	}
	w, ok := s.(collectionWriter)
	if !ok {
		return nil, fmt.Errorf("store %q is a %s: %w", storeID, s.Kind(), store.ErrTypeMismatch)
	}
	return w, nil
}

func writeOptions(originator, barrier string) []store.WriteOption {
	opts := []store.WriteOption{store.WithOriginator(originator)}
	if barrier != "" {
		opts = append(opts, store.WithBarrier(barrier))
	}
	return opts
}

var _ proxy.Port = (*LocalPort)(nil)
