package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cellsync/internal/ir"
)

func pageIDs(p Page) []string {
	out := make([]string, 0, len(p.Items))
	for _, e := range p.Items {
		out = append(out, e.ID)
	}
	return out
}

func drain(t *testing.T, b *BigCollection, cursorID string) [][]string {
	t.Helper()
	var pages [][]string
	for i := 0; i < 100; i++ {
		p := b.CursorNext(cursorID)
		if p.Done {
			assert.Empty(t, p.Items)
			return pages
		}
		pages = append(pages, pageIDs(p))
	}
	t.Fatal("cursor never finished")
	return nil
}

func fillBig(t *testing.T, b *BigCollection, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("i%d", i)
		require.NoError(t, b.Store(context.Background(), entity(id, id), []string{"k" + id}))
	}
}

func TestBigCollection_StreamPagesInOrder(t *testing.T) {
	b := NewBigCollection("big", testGen(t))
	fillBig(t, b, 5)

	cur, err := b.Stream(2, true)
	require.NoError(t, err)

	v, ok := b.CursorVersion(cur)
	require.True(t, ok)
	assert.Equal(t, int64(5), v)

	assert.Equal(t, [][]string{{"i1", "i2"}, {"i3", "i4"}, {"i5"}}, drain(t, b, cur))

	_, ok = b.CursorVersion(cur)
	assert.False(t, ok, "exhausted cursor is released")
}

func TestBigCollection_StreamBackward(t *testing.T) {
	b := NewBigCollection("big", testGen(t))
	fillBig(t, b, 3)

	cur, err := b.Stream(10, false)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"i3", "i2", "i1"}}, drain(t, b, cur))
}

func TestBigCollection_InvalidPageSize(t *testing.T) {
	b := NewBigCollection("big", testGen(t))
	_, err := b.Stream(0, true)
	assert.ErrorIs(t, err, ErrInvalidPageSize)
}

func TestBigCollection_CursorPinnedAgainstMutation(t *testing.T) {
	ctx := context.Background()
	b := NewBigCollection("big", testGen(t))
	fillBig(t, b, 4)

	cur, err := b.Stream(2, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"i1", "i2"}, pageIDs(b.CursorNext(cur)))

	require.NoError(t, b.Remove(ctx, "i3", nil))
	require.NoError(t, b.Store(ctx, entity("i5", "i5"), []string{"k5"}))
	require.NoError(t, b.Store(ctx, entity("i1", "changed"), []string{"k1b"}))

	p := b.CursorNext(cur)
	assert.Equal(t, []string{"i4"}, pageIDs(p))
	assert.True(t, b.CursorNext(cur).Done)

	later, err := b.Stream(10, true)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"i2", "i4", "i5", "i1"}}, drain(t, b, later))
}

func TestBigCollection_CursorsAreIndependent(t *testing.T) {
	ctx := context.Background()
	b := NewBigCollection("big", testGen(t))
	fillBig(t, b, 2)

	first, err := b.Stream(1, true)
	require.NoError(t, err)
	require.NoError(t, b.Store(ctx, entity("i3", "i3"), []string{"k3"}))
	second, err := b.Stream(1, true)
	require.NoError(t, err)

	v1, _ := b.CursorVersion(first)
	v2, _ := b.CursorVersion(second)
	assert.Equal(t, int64(2), v1)
	assert.Equal(t, int64(3), v2)

	assert.Equal(t, [][]string{{"i1"}, {"i2"}}, drain(t, b, first))
	assert.Equal(t, [][]string{{"i1"}, {"i2"}, {"i3"}}, drain(t, b, second))
}

func TestBigCollection_CloseAndUnknownCursor(t *testing.T) {
	b := NewBigCollection("big", testGen(t))
	fillBig(t, b, 3)

	cur, err := b.Stream(1, true)
	require.NoError(t, err)
	b.CursorClose(cur)

	assert.True(t, b.CursorNext(cur).Done)
	assert.True(t, b.CursorNext("nope").Done)
}

func TestBigCollection_CapturedValuesAreDelivered(t *testing.T) {
	ctx := context.Background()
	b := NewBigCollection("big", testGen(t))
	fillBig(t, b, 1)

	cur, err := b.Stream(1, true)
	require.NoError(t, err)
	require.NoError(t, b.Store(ctx, entity("i1", "changed"), []string{"ki1"}))

	p := b.CursorNext(cur)
	require.Len(t, p.Items, 1)
	assert.Equal(t, ir.IRString("i1"), p.Items[0].Field("value"))
}

func TestBigCollection_EmitsEvents(t *testing.T) {
	ctx := context.Background()
	b := NewBigCollection("big", testGen(t))
	rec := &recorder{}
	b.Subscribe(rec.listen)

	require.NoError(t, b.Store(ctx, entity("i1", "v1"), []string{"k1"}))
	require.NoError(t, b.Remove(ctx, "i1", nil))
	require.NoError(t, b.Remove(ctx, "i1", nil))

	assert.Equal(t, []int64{1, 2}, rec.versions())
	assert.Equal(t, KindBigCollection, rec.all()[0].Kind)
}

func TestBigCollection_SnapshotRestore(t *testing.T) {
	ctx := context.Background()
	b := NewBigCollection("big", testGen(t))
	fillBig(t, b, 3)

	snap, err := b.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Model, 3)

	restored := NewBigCollection("big", testGen(t))
	require.NoError(t, restored.Restore(snap))
	require.NoError(t, restored.Store(ctx, entity("i4", "i4"), []string{"k4"}))

	cur, err := restored.Stream(10, true)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"i1", "i2", "i3", "i4"}}, drain(t, restored, cur))
}
