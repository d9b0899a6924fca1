package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cellsync/internal/ir"
)

func TestVariable_SetAdvancesVersionAndNotifies(t *testing.T) {
	ctx := context.Background()
	v := NewVariable("foo", testGen(t))
	rec := &recorder{}
	v.Subscribe(rec.listen)

	require.NoError(t, v.Set(ctx, entity("e1", "abc"), WithOriginator("P1")))

	got, err := v.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "e1", got.ID)
	assert.Equal(t, int64(1), v.Version())

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, "foo", events[0].StoreID)
	assert.Equal(t, KindVariable, events[0].Kind)
	assert.Equal(t, int64(1), events[0].Version)
	assert.Equal(t, "P1", events[0].OriginatorID)
	require.NotNil(t, events[0].Data)
	assert.True(t, events[0].Data.Equal(entity("e1", "abc")))
}

func TestVariable_IdenticalSetIsDropped(t *testing.T) {
	ctx := context.Background()
	v := NewVariable("foo", testGen(t))
	rec := &recorder{}
	v.Subscribe(rec.listen)

	require.NoError(t, v.Set(ctx, entity("e1", "abc")))
	require.NoError(t, v.Set(ctx, entity("e1", "abc")))

	assert.Equal(t, int64(1), v.Version())
	assert.Len(t, rec.all(), 1)
}

func TestVariable_BarrierAlwaysEmits(t *testing.T) {
	ctx := context.Background()
	v := NewVariable("foo", testGen(t))
	rec := &recorder{}
	v.Subscribe(rec.listen)

	require.NoError(t, v.Set(ctx, entity("e1", "abc")))
	require.NoError(t, v.Set(ctx, entity("e1", "abc"), WithBarrier("b-1")))

	events := rec.all()
	require.Len(t, events, 2)
	assert.Equal(t, "b-1", events[1].Barrier)
	assert.Equal(t, int64(2), events[1].Version)
}

func TestVariable_Clear(t *testing.T) {
	ctx := context.Background()
	v := NewVariable("foo", testGen(t))
	rec := &recorder{}
	v.Subscribe(rec.listen)

	require.NoError(t, v.Set(ctx, entity("e1", "abc")))
	require.NoError(t, v.Clear(ctx))
	require.NoError(t, v.Clear(ctx))

	got, err := v.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, []int64{1, 2}, rec.versions())
	assert.Nil(t, rec.all()[1].Data)
}

func TestVariable_TestOverrides(t *testing.T) {
	ctx := context.Background()
	v := NewVariable("foo", testGen(t))
	rec := &recorder{}
	v.Subscribe(rec.listen)

	require.NoError(t, v.Set(ctx, entity("e1", "a"), WithVersion(5)))
	require.NoError(t, v.Set(ctx, entity("e1", "b"), WithoutEvent()))

	assert.Equal(t, []int64{5}, rec.versions())
	assert.Equal(t, int64(6), v.Version())
}

func TestVariable_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	v := NewVariable("foo", testGen(t))
	rec := &recorder{}
	sub := v.Subscribe(rec.listen)

	assert.True(t, v.Unsubscribe(sub))
	assert.False(t, v.Unsubscribe(sub))
	require.NoError(t, v.Set(ctx, entity("e1", "a")))
	assert.Empty(t, rec.all())
}

func TestVariable_SnapshotRestore(t *testing.T) {
	ctx := context.Background()
	v := NewVariable("foo", testGen(t))

	snap, err := v.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Model)
	assert.NotNil(t, snap.Model)

	require.NoError(t, v.Set(ctx, entity("e1", "a")))
	snap, err = v.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Model, 1)
	assert.Equal(t, int64(1), snap.Version)

	other := NewVariable("foo", testGen(t))
	require.NoError(t, other.Restore(snap))
	got, err := other.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ir.EntityPtrEqual(got, &snap.Model[0].Value))
	assert.Equal(t, int64(1), other.Version())

	bad := ir.Snapshot{Model: []ir.ModelEntry{{ID: "a"}, {ID: "b"}}}
	assert.Error(t, other.Restore(bad))
}

func TestVariable_ListenerMayReadStore(t *testing.T) {
	ctx := context.Background()
	v := NewVariable("foo", testGen(t))
	var seen *ir.Entity
	v.Subscribe(func(Event) {
		seen, _ = v.Get(ctx)
	})

	require.NoError(t, v.Set(ctx, entity("e1", "a")))
	require.NotNil(t, seen)
	assert.Equal(t, "e1", seen.ID)
}
