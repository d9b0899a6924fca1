package proxy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/cellsync/internal/ids"
	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/store"
)

// traceLog collects port calls (recorded when made) and particle callbacks
// (recorded when the scheduler delivers them).
type traceLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *traceLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *traceLog) take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.lines
	l.lines = nil
	return out
}

// fakePort records requests and lets tests answer them by hand.
type fakePort struct {
	trace *traceLog

	mu      sync.Mutex
	onEvent map[string]EventFunc
	onSync  map[string][]SyncFunc
	values  map[string]*ir.Entity
	lists   map[string][]ir.Entity
	backing map[string]ir.Entity
}

func newFakePort(trace *traceLog) *fakePort {
	return &fakePort{
		trace:   trace,
		onEvent: make(map[string]EventFunc),
		onSync:  make(map[string][]SyncFunc),
		values:  make(map[string]*ir.Entity),
		lists:   make(map[string][]ir.Entity),
		backing: make(map[string]ir.Entity),
	}
}

func (p *fakePort) InitializeProxy(_ context.Context, storeID string, onEvent EventFunc) error {
	p.trace.add("InitializeProxy:%s", storeID)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEvent[storeID] = onEvent
	return nil
}

func (p *fakePort) SynchronizeProxy(_ context.Context, storeID string, onSync SyncFunc) error {
	p.trace.add("SynchronizeProxy:%s", storeID)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSync[storeID] = append(p.onSync[storeID], onSync)
	return nil
}

func (p *fakePort) HandleGet(_ context.Context, storeID string) (*ir.Entity, error) {
	p.trace.add("HandleGet:%s", storeID)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[storeID], nil
}

func (p *fakePort) HandleToList(_ context.Context, storeID string) ([]ir.Entity, error) {
	p.trace.add("HandleToList:%s", storeID)
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ir.Entity{}, p.lists[storeID]...), nil
}

func (p *fakePort) HandleSet(_ context.Context, storeID string, value ir.Entity, _, _ string) error {
	p.trace.add("HandleSet:%s:%s", storeID, render(&value))
	return nil
}

func (p *fakePort) HandleClear(_ context.Context, storeID, _, _ string) error {
	p.trace.add("HandleClear:%s", storeID)
	return nil
}

func (p *fakePort) HandleStore(_ context.Context, storeID string, value ir.Entity, _ []string, _ string) error {
	p.trace.add("HandleStore:%s:%s", storeID, render(&value))
	return nil
}

func (p *fakePort) HandleRemove(_ context.Context, storeID, id string, _ []string, _ string) error {
	p.trace.add("HandleRemove:%s:%s", storeID, id)
	return nil
}

func (p *fakePort) HandleRemoveMultiple(_ context.Context, storeID string, items []store.RemoveItem, _ string) error {
	p.trace.add("HandleRemoveMultiple:%s:%d", storeID, len(items))
	return nil
}

func (p *fakePort) HandleStream(_ context.Context, storeID string, pageSize int, forward bool) (string, int64, error) {
	p.trace.add("HandleStream:%s:%d:%t", storeID, pageSize, forward)
	return "c1", 3, nil
}

func (p *fakePort) StreamCursorNext(_ context.Context, storeID, cursorID string) (store.Page, error) {
	p.trace.add("StreamCursorNext:%s:%s", storeID, cursorID)
	return store.Page{Items: []ir.Entity{}, Done: true}, nil
}

func (p *fakePort) StreamCursorClose(_ context.Context, storeID, cursorID string) error {
	p.trace.add("StreamCursorClose:%s:%s", storeID, cursorID)
	return nil
}

func (p *fakePort) Dereference(_ context.Context, storeID string, ref ir.Reference) (ir.Entity, error) {
	p.trace.add("Dereference:%s:%s", storeID, ref.ID)
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.backing[ref.ID]; ok {
		return e, nil
	}
	return ir.Entity{}, store.ErrEntityNotFound
}

// testObserver is a handle stand-in that renders notifications into the
// trace, e.g. "onHandleUpdate:P1:bar:+[v1](originator)".
type testObserver struct {
	particle string
	opts     Options
	readable bool
	trace    *traceLog
}

func (o *testObserver) ParticleID() string { return o.particle }
func (o *testObserver) Readable() bool     { return o.readable }
func (o *testObserver) Options() Options   { return o.opts }

func (o *testObserver) Notify(n Notification) error {
	switch n.Kind {
	case NotifySync:
		if n.List != nil {
			o.trace.add("onHandleSync:%s:%s:%s", o.particle, n.StoreID, renderList(n.List))
		} else {
			o.trace.add("onHandleSync:%s:%s:%s", o.particle, n.StoreID, render(n.Data))
		}
	case NotifyUpdate:
		var body string
		if n.Added != nil || n.Removed != nil {
			if len(n.Added) > 0 {
				body += "+" + renderList(n.Added)
			}
			if len(n.Removed) > 0 {
				body += "-" + renderList(n.Removed)
			}
		} else {
			body = render(n.Data)
		}
		if n.OriginatorID == o.particle {
			body += "(originator)"
		}
		o.trace.add("onHandleUpdate:%s:%s:%s", o.particle, n.StoreID, body)
	case NotifyDesync:
		o.trace.add("onHandleDesync:%s:%s", o.particle, n.StoreID)
	}
	return nil
}

func render(e *ir.Entity) string {
	if e == nil {
		return "(null)"
	}
	if s, ok := e.Field("value").(ir.IRString); ok {
		return string(s)
	}
	return e.ID
}

func renderList(es []ir.Entity) string {
	parts := make([]string, len(es))
	for i := range es {
		parts[i] = render(&es[i])
	}
	return "[" + strings.Join(parts, "|") + "]"
}

// testEnv wires proxies to a fake port and a scheduler.
type testEnv struct {
	t     *testing.T
	trace *traceLog
	port  *fakePort
	sched *Scheduler
	cfg   Config
}

func newTestEnv(t *testing.T, barriers ...string) *testEnv {
	t.Helper()
	trace := &traceLog{}
	port := newFakePort(trace)
	sched := NewScheduler()
	return &testEnv{
		t:     t,
		trace: trace,
		port:  port,
		sched: sched,
		cfg: Config{
			Port:      port,
			Scheduler: sched,
			IDs:       ids.NewFixedGenerator(barriers...),
		},
	}
}

func (e *testEnv) observer(particle string, configure map[string]bool) *testObserver {
	e.t.Helper()
	opts := DefaultOptions()
	require.NoError(e.t, opts.Apply(configure))
	return &testObserver{particle: particle, opts: opts, readable: true, trace: e.trace}
}

func (e *testEnv) register(p Proxy, obs Observer) {
	e.t.Helper()
	require.NoError(e.t, p.Register(context.Background(), obs))
}

func (e *testEnv) sendUpdate(storeID string, ev store.Event) {
	e.t.Helper()
	e.port.mu.Lock()
	fn := e.port.onEvent[storeID]
	e.port.mu.Unlock()
	require.NotNil(e.t, fn, "no listener attached to %s", storeID)
	ev.StoreID = storeID
	fn(ev)
}

func (e *testEnv) sendSync(storeID string, snap ir.Snapshot) {
	e.t.Helper()
	e.port.mu.Lock()
	pending := e.port.onSync[storeID]
	require.NotEmpty(e.t, pending, "no sync request pending for %s", storeID)
	fn := pending[0]
	e.port.onSync[storeID] = pending[1:]
	e.port.mu.Unlock()
	fn(snap)
}

// verify drains the scheduler and checks the full trace since the last
// verify.
func (e *testEnv) verify(want ...string) {
	e.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(e.t, e.sched.Idle(ctx))
	got := e.trace.take()
	if want == nil {
		want = []string{}
	}
	if got == nil {
		got = []string{}
	}
	require.Equal(e.t, want, got)
}

func ent(id, value string) ir.Entity {
	return ir.NewEntity(id, ir.Fields("value", value))
}

func addEvent(version int64, value ir.Entity, keys ...string) store.Event {
	return store.Event{
		Kind:    store.KindCollection,
		Version: version,
		Add:     []store.Change{{Value: value, Keys: keys, Effective: true, Observable: true}},
	}
}

func removeEvent(version int64, value ir.Entity, keys ...string) store.Event {
	return store.Event{
		Kind:    store.KindCollection,
		Version: version,
		Remove:  []store.Change{{Value: value, Keys: keys, Effective: true, Observable: true}},
	}
}

func setEvent(version int64, value *ir.Entity) store.Event {
	return store.Event{Kind: store.KindVariable, Version: version, Data: value}
}

func collectionSnapshot(version int64, values ...ir.Entity) ir.Snapshot {
	rows := make([]ir.ModelEntry, 0, len(values))
	for _, v := range values {
		rows = append(rows, ir.ModelEntry{ID: v.ID, Value: v, Keys: []string{"k-" + v.ID}})
	}
	return ir.Snapshot{Model: rows, Version: version}
}

func ptr(e ir.Entity) *ir.Entity { return &e }
