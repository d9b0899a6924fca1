package proxy

import (
	"context"
	"fmt"

	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/store"
)

// NoOp stands in for a real proxy when a particle is disabled. Every call
// succeeds without effect; reads return empty results and cursors are
// immediately done. Dereference finds nothing.
type NoOp struct {
	storeID string
	kind    store.Kind
}

// NewNoOp creates a NoOp proxy.
func NewNoOp(storeID string, kind store.Kind) *NoOp {
	return &NoOp{storeID: storeID, kind: kind}
}

func (n *NoOp) StoreID() string                          { return n.storeID }
func (n *NoOp) Kind() store.Kind                         { return n.kind }
func (n *NoOp) Register(context.Context, Observer) error { return nil }
func (n *NoOp) Deregister(Observer)                      {}

func (n *NoOp) Get(context.Context) (*ir.Entity, error)             { return nil, nil }
func (n *NoOp) Set(context.Context, ir.Entity, string) error        { return nil }
func (n *NoOp) Clear(context.Context, string) error                 { return nil }
func (n *NoOp) List(context.Context) ([]ir.Entity, error)           { return []ir.Entity{}, nil }
func (n *NoOp) GetByID(context.Context, string) (*ir.Entity, error) { return nil, nil }

func (n *NoOp) Store(context.Context, ir.Entity, []string, string) error { return nil }
func (n *NoOp) Remove(context.Context, string, []string, string) error   { return nil }

func (n *NoOp) Stream(context.Context, int, bool) (string, int64, error) { return "", 0, nil }
func (n *NoOp) CursorNext(context.Context, string) (store.Page, error) {
	return store.Page{Items: []ir.Entity{}, Done: true}, nil
}
func (n *NoOp) CursorClose(context.Context, string) error { return nil }

func (n *NoOp) Dereference(_ context.Context, ref ir.Reference) (ir.Entity, error) {
	return ir.Entity{}, fmt.Errorf("dereference %s: %w", ref.ID, store.ErrEntityNotFound)
}
