package handle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cellsync/internal/ids"
	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/proxy"
	"github.com/roach88/cellsync/internal/store"
)

var _ proxy.Observer = (*Variable)(nil)
var _ proxy.Observer = (*Collection)(nil)
var _ proxy.Observer = (*BigCollection)(nil)

var (
	_ VariableBackend      = (*proxy.VariableProxy)(nil)
	_ CollectionBackend    = (*proxy.CollectionProxy)(nil)
	_ BigCollectionBackend = (*proxy.BigCollectionProxy)(nil)
	_ VariableBackend      = (*proxy.NoOp)(nil)
	_ CollectionBackend    = (*proxy.NoOp)(nil)
	_ BigCollectionBackend = (*proxy.NoOp)(nil)
)

func TestCapabilities_StringAndParse(t *testing.T) {
	assert.Equal(t, "read", CanRead.String())
	assert.Equal(t, "write", CanWrite.String())
	assert.Equal(t, "read|write", ReadWrite.String())
	assert.Equal(t, "none", Capabilities(0).String())

	for _, s := range []string{"read", "write", "read|write", "write|read"} {
		c, err := ParseCapabilities(s)
		require.NoError(t, err, s)
		assert.NotZero(t, c)
	}
	c, err := ParseCapabilities("read|write")
	require.NoError(t, err)
	assert.Equal(t, ReadWrite, c)

	_, err = ParseCapabilities("execute")
	assert.Error(t, err)
}

func TestVariable_CapabilityChecks(t *testing.T) {
	ctx := context.Background()
	p := &testParticle{id: "P1"}

	backend := newFakeBackend("foo", store.KindVariable)
	ro := NewVariable(p, backend, CanRead, ids.NewSequenceGenerator("e"))
	assert.ErrorIs(t, ro.Set(ctx, ir.NewEntity("a", nil)), ErrNotWritable)
	assert.ErrorIs(t, ro.Clear(ctx), ErrNotWritable)
	_, err := ro.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Get"}, backend.Calls())

	backend = newFakeBackend("foo", store.KindVariable)
	wo := NewVariable(p, backend, CanWrite, ids.NewSequenceGenerator("e"))
	_, err = wo.Get(ctx)
	assert.ErrorIs(t, err, ErrNotReadable)
	require.NoError(t, wo.Clear(ctx))
	assert.Equal(t, []string{"Clear:P1"}, backend.Calls())
}

func TestVariable_SetAssignsMissingID(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend("foo", store.KindVariable)
	h := NewVariable(&testParticle{id: "P1"}, backend, ReadWrite, ids.NewSequenceGenerator("e"))

	require.NoError(t, h.Set(ctx, ir.Entity{Data: ir.Fields("value", "x")}))
	require.NoError(t, h.Set(ctx, ir.NewEntity("mine", ir.Fields("value", "y"))))

	assert.Equal(t, []string{"Set:e-1:P1", "Set:mine:P1"}, backend.Calls())
}

func TestVariable_BackendErrorIsWrapped(t *testing.T) {
	backend := newFakeBackend("foo", store.KindVariable)
	backend.err = proxy.NewProtocolError(proxy.ErrCodeUnknownStore, "set", "foo", errors.New("gone"))
	h := NewVariable(&testParticle{id: "P1"}, backend, ReadWrite, nil)

	err := h.Set(context.Background(), ir.NewEntity("a", nil))
	require.Error(t, err)
	assert.True(t, proxy.IsUnknownStoreError(err))
	assert.Contains(t, err.Error(), "set foo")
}

func TestCollection_StoreMintsWitnessKeys(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend("bar", store.KindCollection)
	h := NewCollection(&testParticle{id: "P1"}, backend, ReadWrite, ids.NewSequenceGenerator("k"))

	require.NoError(t, h.Store(ctx, ir.NewEntity("a", nil)))
	require.NoError(t, h.Store(ctx, ir.NewEntity("a", nil)))
	require.NoError(t, h.Store(ctx, ir.Entity{}))
	require.NoError(t, h.Remove(ctx, "a"))
	require.NoError(t, h.Clear(ctx))
	_, err := h.List(ctx)
	require.NoError(t, err)
	_, err = h.Get(ctx, "a")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Store:a:[k-1]:P1",
		"Store:a:[k-2]:P1",
		"Store:k-3:[k-4]:P1",
		"Remove:a:0:P1",
		"Clear:P1",
		"List",
		"GetByID:a",
	}, backend.Calls())
}

func TestCollection_ReadOnlyRejectsWrites(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend("bar", store.KindCollection)
	h := NewCollection(&testParticle{id: "P1"}, backend, CanRead, nil)

	assert.ErrorIs(t, h.Store(ctx, ir.NewEntity("a", nil)), ErrNotWritable)
	assert.ErrorIs(t, h.Remove(ctx, "a"), ErrNotWritable)
	assert.ErrorIs(t, h.Clear(ctx), ErrNotWritable)
	assert.Empty(t, backend.Calls())
}

func TestConfigure(t *testing.T) {
	backend := newFakeBackend("bar", store.KindCollection)
	h := NewCollection(&testParticle{id: "P1"}, backend, ReadWrite, nil)

	assert.Equal(t, proxy.DefaultOptions(), h.Options())
	require.NoError(t, h.Configure(map[string]bool{proxy.OptionKeepSynced: false, proxy.OptionNotifyDesync: true}))
	opts := h.Options()
	assert.False(t, opts.KeepSynced)
	assert.True(t, opts.NotifyDesync)

	err := h.Configure(map[string]bool{"bogus": true})
	assert.ErrorIs(t, err, ErrUnknownOption)
	assert.Equal(t, opts, h.Options())

	wo := NewCollection(&testParticle{id: "P1"}, backend, CanWrite, nil)
	assert.ErrorIs(t, wo.Configure(map[string]bool{proxy.OptionKeepSynced: true}), ErrNotReadable)
	assert.ErrorIs(t, wo.SetOptions(proxy.DefaultOptions()), ErrNotReadable)
}

func TestNotify_ForwardsToParticle(t *testing.T) {
	p := &testParticle{id: "P1"}
	h := NewCollection(p, newFakeBackend("bar", store.KindCollection), ReadWrite, nil)

	a := ir.NewEntity("a", nil)
	require.NoError(t, h.Notify(proxy.Notification{Kind: proxy.NotifySync, StoreID: "bar", Version: 2, List: []ir.Entity{a}}))
	require.NoError(t, h.Notify(proxy.Notification{Kind: proxy.NotifyUpdate, StoreID: "bar", Added: []ir.Entity{a}, OriginatorID: "P1"}))
	require.NoError(t, h.Notify(proxy.Notification{Kind: proxy.NotifyUpdate, StoreID: "bar", Removed: []ir.Entity{a}, OriginatorID: "P2"}))
	require.NoError(t, h.Notify(proxy.Notification{Kind: proxy.NotifyUpdate, StoreID: "bar", Removed: []ir.Entity{a}}))
	require.NoError(t, h.Notify(proxy.Notification{Kind: proxy.NotifyDesync, StoreID: "bar"}))
	assert.Error(t, h.Notify(proxy.Notification{StoreID: "bar"}))

	assert.Equal(t, []string{
		"sync:bar:2:1",
		"update:bar:+1-0:true",
		"update:bar:+0-1:false",
		"update:bar:+0-1:false",
		"desync:bar",
	}, p.Events())
	assert.Equal(t, "P1", h.ParticleID())
	assert.True(t, h.Readable())
}

func TestBigCollection_CursorPaging(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend("big", store.KindBigCollection)
	backend.pages = []store.Page{
		{Items: []ir.Entity{ir.NewEntity("a", nil), ir.NewEntity("b", nil)}},
		{Items: []ir.Entity{ir.NewEntity("c", nil)}, Done: true},
	}
	h := NewBigCollection(&testParticle{id: "P1"}, backend, ReadWrite, nil)

	_, err := h.Stream(ctx, 0, true)
	assert.ErrorIs(t, err, ErrInvalidPageSize)

	cur, err := h.Stream(ctx, 2, true)
	require.NoError(t, err)
	assert.Equal(t, int64(7), cur.Version())

	var got []string
	for {
		items, done, err := cur.Next(ctx)
		require.NoError(t, err)
		for _, e := range items {
			got = append(got, e.ID)
		}
		if done {
			break
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)

	items, done, err := cur.Next(ctx)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Empty(t, items)
	require.NoError(t, cur.Close(ctx))

	assert.Equal(t, []string{"Stream:2:true", "CursorNext:c1", "CursorNext:c1"}, backend.Calls())
}

func TestBigCollection_CloseEarly(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend("big", store.KindBigCollection)
	h := NewBigCollection(&testParticle{id: "P1"}, backend, ReadWrite, ids.NewSequenceGenerator("k"))

	cur, err := h.Stream(ctx, 5, false)
	require.NoError(t, err)
	require.NoError(t, cur.Close(ctx))
	require.NoError(t, cur.Close(ctx))
	require.NoError(t, h.Store(ctx, ir.NewEntity("a", nil)))
	require.NoError(t, h.Remove(ctx, "a"))

	assert.Equal(t, []string{
		"Stream:5:false",
		"CursorClose:c1",
		"Store:a:[k-1]:P1",
		"Remove:a:0:P1",
	}, backend.Calls())
}

func TestBigCollection_NotConfigurable(t *testing.T) {
	h := NewBigCollection(&testParticle{id: "P1"}, newFakeBackend("big", store.KindBigCollection), ReadWrite, nil)
	assert.ErrorIs(t, h.Configure(map[string]bool{proxy.OptionKeepSynced: false}), ErrNotConfigurable)
	assert.ErrorIs(t, h.SetOptions(proxy.DefaultOptions()), ErrNotConfigurable)

	wo := NewBigCollection(&testParticle{id: "P1"}, newFakeBackend("big", store.KindBigCollection), CanWrite, nil)
	_, err := wo.Stream(context.Background(), 1, true)
	assert.ErrorIs(t, err, ErrNotReadable)
}

func TestDereference_CapabilityAndWrapping(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend("refs", store.KindCollection)
	h := NewCollection(&testParticle{id: "P1"}, backend, ReadWrite, nil)

	got, err := h.Dereference(ctx, ir.Reference{ID: "people/e1", StorageKey: "volatile://person"})
	require.NoError(t, err)
	assert.Equal(t, "people/e1", got.ID)

	wo := NewVariable(&testParticle{id: "P1"}, newFakeBackend("foo", store.KindVariable), CanWrite, nil)
	_, err = wo.Dereference(ctx, ir.Reference{ID: "x"})
	assert.ErrorIs(t, err, ErrNotReadable)

	backend.err = errors.New("boom")
	_, err = h.Dereference(ctx, ir.Reference{ID: "people/e2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dereference people/e2 via refs")
	assert.Equal(t, []string{"Dereference:people/e1", "Dereference:people/e2"}, backend.Calls())
}
