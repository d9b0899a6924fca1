package channel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/cellsync/internal/ids"
	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/proxy"
	"github.com/roach88/cellsync/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// observer records notifications as compact lines.
type observer struct {
	particle string
	opts     proxy.Options

	mu    sync.Mutex
	lines []string
}

func newObserver(particle string) *observer {
	return &observer{particle: particle, opts: proxy.DefaultOptions()}
}

func (o *observer) ParticleID() string     { return o.particle }
func (o *observer) Readable() bool         { return true }
func (o *observer) Options() proxy.Options { return o.opts }

func (o *observer) Notify(n proxy.Notification) error {
	var line string
	switch n.Kind {
	case proxy.NotifySync:
		if n.List == nil && n.Data == nil {
			line = fmt.Sprintf("sync:%s:%s:null", o.particle, n.StoreID)
		} else if n.Data != nil {
			line = fmt.Sprintf("sync:%s:%s:%s", o.particle, n.StoreID, n.Data.ID)
		} else {
			line = fmt.Sprintf("sync:%s:%s:[%s]", o.particle, n.StoreID, idList(n.List))
		}
	case proxy.NotifyUpdate:
		if n.Data != nil {
			line = fmt.Sprintf("update:%s:%s:%s(%s)", o.particle, n.StoreID, n.Data.ID, n.OriginatorID)
		} else {
			line = fmt.Sprintf("update:%s:%s:+[%s]-[%s](%s)", o.particle, n.StoreID, idList(n.Added), idList(n.Removed), n.OriginatorID)
		}
	case proxy.NotifyDesync:
		line = fmt.Sprintf("desync:%s:%s", o.particle, n.StoreID)
	}
	o.mu.Lock()
	o.lines = append(o.lines, line)
	o.mu.Unlock()
	return nil
}

func (o *observer) take() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.lines
	o.lines = nil
	return out
}

func idList(list []ir.Entity) string {
	parts := make([]string, len(list))
	for i, e := range list {
		parts[i] = e.ID
	}
	return strings.Join(parts, "|")
}

type env struct {
	stores *store.Manager
	sched  *proxy.Scheduler
	port   *LocalPort
	rec    *Recorder
}

func newEnv(t *testing.T, opts ...store.ManagerOption) *env {
	t.Helper()
	opts = append([]store.ManagerOption{store.WithIDGenerator(ids.NewSequenceGenerator("tok"))}, opts...)
	e := &env{
		stores: store.NewManager(opts...),
		sched:  proxy.NewScheduler(),
	}
	e.port = NewLocalPort(e.stores, e.sched)
	e.rec = NewRecorder(e.port, nil)
	t.Cleanup(func() { _ = e.port.Close() })
	return e
}

func (e *env) config() proxy.Config {
	return proxy.Config{Port: e.rec, Scheduler: e.sched, IDs: ids.NewSequenceGenerator("barrier")}
}

func (e *env) idle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.sched.Idle(ctx))
}

func entity(id string) ir.Entity {
	return ir.NewEntity(id, ir.Fields("value", id))
}

func TestLocalPort_CollectionEndToEnd(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, store.WithReferenceMode(false))
	bar, err := e.stores.NewCollection("bar")
	require.NoError(t, err)

	p := proxy.NewCollectionProxy("bar", e.config())
	o1 := newObserver("P1")
	require.NoError(t, p.Register(ctx, o1))
	e.idle(t)
	assert.Equal(t, []string{"sync:P1:bar:[]"}, o1.take())
	assert.Equal(t, proxy.Synchronized, p.State())

	require.NoError(t, p.Store(ctx, entity("a"), []string{"k1"}, "P1"))
	e.idle(t)
	assert.Equal(t, []string{"update:P1:bar:+[a]-[](P1)"}, o1.take())

	require.NoError(t, bar.Store(ctx, entity("b"), []string{"k2"}, store.WithOriginator("P2")))
	e.idle(t)
	assert.Equal(t, []string{"update:P1:bar:+[b]-[](P2)"}, o1.take())

	list, err := p.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a|b", idList(list))

	require.NoError(t, p.Remove(ctx, "a", nil, "P1"))
	e.idle(t)
	assert.Equal(t, []string{"update:P1:bar:+[]-[a](P1)"}, o1.take())
	assert.Equal(t, int64(3), p.Version())

	assert.Equal(t, []string{
		"InitializeProxy:bar",
		"SynchronizeProxy:bar",
		"HandleStore:bar:a:P1",
		"HandleRemove:bar:a:P1",
	}, e.rec.Lines())
}

func TestLocalPort_LateRegistrantGetsImmediateSync(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	bar, err := e.stores.NewCollection("bar")
	require.NoError(t, err)
	require.NoError(t, bar.Store(ctx, entity("a"), []string{"k1"}))

	p := proxy.NewCollectionProxy("bar", e.config())
	o1, o2 := newObserver("P1"), newObserver("P2")
	require.NoError(t, p.Register(ctx, o1))
	e.idle(t)
	require.NoError(t, p.Register(ctx, o2))
	e.idle(t)

	assert.Equal(t, []string{"sync:P1:bar:[a]"}, o1.take())
	assert.Equal(t, []string{"sync:P2:bar:[a]"}, o2.take())
	assert.Equal(t, []string{"InitializeProxy:bar", "SynchronizeProxy:bar"}, e.rec.Lines())
}

func TestLocalPort_VariableReadYourOwnWrite(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	_, err := e.stores.NewVariable("foo")
	require.NoError(t, err)

	p := proxy.NewVariableProxy("foo", e.config())
	o1 := newObserver("P1")
	require.NoError(t, p.Register(ctx, o1))
	e.idle(t)
	assert.Equal(t, []string{"sync:P1:foo:null"}, o1.take())

	require.NoError(t, p.Set(ctx, entity("a"), "P1"))
	got, err := p.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a", got.ID)

	e.idle(t)
	assert.Equal(t, []string{"update:P1:foo:a(P1)"}, o1.take())
	assert.Equal(t, proxy.Synchronized, p.State())
	assert.Equal(t, int64(1), p.Version())

	v, err := e.stores.Variable("foo")
	require.NoError(t, err)
	stored, err := v.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Equal(entity("a")))
}

func TestLocalPort_ErrorsAreProtocolErrors(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	_, err := e.stores.NewCollection("bar")
	require.NoError(t, err)
	_, err = e.stores.NewBigCollection("big")
	require.NoError(t, err)

	_, err = e.port.HandleGet(ctx, "missing")
	assert.True(t, proxy.IsUnknownStoreError(err), "%v", err)
	assert.ErrorIs(t, err, store.ErrStoreNotFound)

	_, err = e.port.HandleGet(ctx, "bar")
	assert.True(t, proxy.IsKindMismatchError(err), "%v", err)

	err = e.port.HandleStore(ctx, "bar", entity("a"), nil, "P1")
	assert.True(t, proxy.IsRejectedError(err), "%v", err)
	assert.ErrorIs(t, err, store.ErrNoKeys)

	_, _, err = e.port.HandleStream(ctx, "big", 0, true)
	assert.True(t, proxy.IsRejectedError(err), "%v", err)
	assert.ErrorIs(t, err, store.ErrInvalidPageSize)

	err = e.port.HandleRemoveMultiple(ctx, "big", nil, "P1")
	assert.True(t, proxy.IsKindMismatchError(err), "%v", err)

	err = e.port.SynchronizeProxy(ctx, "missing", func(ir.Snapshot) {})
	assert.True(t, proxy.IsUnknownStoreError(err), "%v", err)
}

func TestLocalPort_StreamPages(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	big, err := e.stores.NewBigCollection("big")
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, big.Store(ctx, entity(id), []string{"k-" + id}))
	}

	cursor, version, err := e.port.HandleStream(ctx, "big", 2, true)
	require.NoError(t, err)
	assert.Equal(t, int64(3), version)

	// Writes after the cursor opened are not visible to it.
	require.NoError(t, big.Store(ctx, entity("d"), []string{"k-d"}))

	var got []string
	for {
		page, err := e.port.StreamCursorNext(ctx, "big", cursor)
		require.NoError(t, err)
		for _, item := range page.Items {
			got = append(got, item.ID)
		}
		if page.Done {
			break
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
	require.NoError(t, e.port.StreamCursorClose(ctx, "big", cursor))
}

func TestLocalPort_ClearCollection(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	bar, err := e.stores.NewCollection("bar")
	require.NoError(t, err)
	require.NoError(t, bar.Store(ctx, entity("a"), []string{"k1"}))
	require.NoError(t, bar.Store(ctx, entity("b"), []string{"k2"}))

	require.NoError(t, e.port.HandleClear(ctx, "bar", "P1", ""))
	list, err := e.port.HandleToList(ctx, "bar")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestLocalPort_Close(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	bar, err := e.stores.NewCollection("bar")
	require.NoError(t, err)

	require.NoError(t, e.port.InitializeProxy(ctx, "bar", func(store.Event) {}))
	require.NoError(t, e.port.Close())
	require.NoError(t, e.port.Close())

	require.NoError(t, bar.Store(ctx, entity("a"), []string{"k1"}))
	assert.Zero(t, e.sched.Len())

	_, err = e.port.HandleToList(ctx, "bar")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRecorder_Take(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	_, err := e.stores.NewVariable("foo")
	require.NoError(t, err)

	require.NoError(t, e.rec.HandleSet(ctx, "foo", entity("a"), "P1", ""))
	_, err = e.rec.HandleGet(ctx, "foo")
	require.NoError(t, err)
	require.NoError(t, e.rec.HandleClear(ctx, "foo", "P2", ""))
	_, err = e.rec.HandleToList(ctx, "foo")
	assert.Error(t, err)

	assert.Equal(t, []string{
		"HandleSet:foo:a:P1",
		"HandleGet:foo",
		"HandleClear:foo:P2",
		"HandleToList:foo",
	}, e.rec.Take())
	assert.Empty(t, e.rec.Lines())
}
