package handle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cellsync/internal/channel"
	"github.com/roach88/cellsync/internal/ids"
	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/proxy"
	"github.com/roach88/cellsync/internal/store"
)

func TestDereference_ThroughLocalPort(t *testing.T) {
	ctx := context.Background()
	stores := store.NewManager(store.WithIDGenerator(ids.NewSequenceGenerator("tok")))
	people, err := stores.NewCollection("people", store.WithEntityType("person"))
	require.NoError(t, err)
	_, err = stores.NewCollection("refs", store.WithReferences())
	require.NoError(t, err)

	sched := proxy.NewScheduler()
	port := channel.NewLocalPort(stores, sched)
	t.Cleanup(func() { _ = port.Close() })
	cfg := proxy.Config{Port: port, Scheduler: sched, IDs: ids.NewSequenceGenerator("barrier")}

	refs := NewCollection(&testParticle{id: "P1"}, proxy.NewCollectionProxy("refs", cfg), ReadWrite, ids.NewSequenceGenerator("k"))
	require.NoError(t, refs.Backend().Register(ctx, refs))
	require.NoError(t, sched.Idle(ctx))

	ann := ir.NewEntity("e1", ir.Fields("name", "ann"))
	require.NoError(t, people.Store(ctx, ann, []string{"k1"}))
	ref := people.(*store.RefCollection).Reference("e1")
	require.NoError(t, refs.Store(ctx, ref.Pointer()))
	require.NoError(t, sched.Idle(ctx))

	list, err := refs.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	held, ok := list[0].AsReference()
	require.True(t, ok)

	got, err := refs.Dereference(ctx, held)
	require.NoError(t, err)
	assert.True(t, got.Equal(ann))

	// Committed after the refs proxy last synchronized; still resolves.
	bo := ir.NewEntity("e2", ir.Fields("name", "bo"))
	require.NoError(t, people.Store(ctx, bo, []string{"k2"}))
	got, err = refs.Dereference(ctx, people.(*store.RefCollection).Reference("e2"))
	require.NoError(t, err)
	assert.True(t, got.Equal(bo))

	_, err = refs.Dereference(ctx, ir.Reference{ID: store.BackingID("people", "nope"), StorageKey: ref.StorageKey})
	assert.ErrorIs(t, err, store.ErrEntityNotFound)

	_, err = refs.Dereference(ctx, ir.Reference{ID: "x", StorageKey: "volatile://nowhere"})
	assert.ErrorIs(t, err, store.ErrUnknownStorageKey)
}
