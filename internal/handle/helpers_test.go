package handle

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/proxy"
	"github.com/roach88/cellsync/internal/store"
)

// fakeBackend records every call and satisfies all three backend
// interfaces.
type fakeBackend struct {
	proxy.NoOp

	mu    sync.Mutex
	calls []string
	pages []store.Page
	err   error
}

func newFakeBackend(storeID string, kind store.Kind) *fakeBackend {
	return &fakeBackend{NoOp: *proxy.NewNoOp(storeID, kind)}
}

func (f *fakeBackend) record(format string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return f.err
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) Get(context.Context) (*ir.Entity, error) {
	return nil, f.record("Get")
}

func (f *fakeBackend) Set(_ context.Context, v ir.Entity, particleID string) error {
	return f.record("Set:%s:%s", v.ID, particleID)
}

func (f *fakeBackend) Clear(_ context.Context, particleID string) error {
	return f.record("Clear:%s", particleID)
}

func (f *fakeBackend) List(context.Context) ([]ir.Entity, error) {
	return []ir.Entity{}, f.record("List")
}

func (f *fakeBackend) GetByID(_ context.Context, id string) (*ir.Entity, error) {
	return nil, f.record("GetByID:%s", id)
}

func (f *fakeBackend) Store(_ context.Context, v ir.Entity, keys []string, particleID string) error {
	return f.record("Store:%s:%v:%s", v.ID, keys, particleID)
}

func (f *fakeBackend) Remove(_ context.Context, id string, keys []string, particleID string) error {
	return f.record("Remove:%s:%d:%s", id, len(keys), particleID)
}

func (f *fakeBackend) Dereference(_ context.Context, ref ir.Reference) (ir.Entity, error) {
	if err := f.record("Dereference:%s", ref.ID); err != nil {
		return ir.Entity{}, err
	}
	return ir.NewEntity(ref.ID, nil), nil
}

func (f *fakeBackend) Stream(_ context.Context, pageSize int, forward bool) (string, int64, error) {
	return "c1", 7, f.record("Stream:%d:%t", pageSize, forward)
}

func (f *fakeBackend) CursorNext(_ context.Context, cursorID string) (store.Page, error) {
	if err := f.record("CursorNext:%s", cursorID); err != nil {
		return store.Page{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pages) == 0 {
		return store.Page{Done: true}, nil
	}
	p := f.pages[0]
	f.pages = f.pages[1:]
	return p, nil
}

func (f *fakeBackend) CursorClose(_ context.Context, cursorID string) error {
	return f.record("CursorClose:%s", cursorID)
}

// testParticle records callbacks.
type testParticle struct {
	id string

	mu     sync.Mutex
	events []string
}

func (p *testParticle) ID() string { return p.id }

func (p *testParticle) add(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, s)
}

func (p *testParticle) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func (p *testParticle) OnHandleSync(h Handle, s Sync) error {
	p.add(fmt.Sprintf("sync:%s:%d:%d", h.Name(), s.Version, len(s.List)))
	return nil
}

func (p *testParticle) OnHandleUpdate(h Handle, u Update) error {
	p.add(fmt.Sprintf("update:%s:+%d-%d:%t", h.Name(), len(u.Added), len(u.Removed), u.Originator))
	return nil
}

func (p *testParticle) OnHandleDesync(h Handle) error {
	p.add("desync:" + h.Name())
	return nil
}
