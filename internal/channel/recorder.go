package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/proxy"
	"github.com/roach88/cellsync/internal/store"
)

// Recorder wraps a Port and keeps one trace line per request, e.g.
// "HandleStore:bar:a{}:P1". Lines are recorded before the request is
// forwarded, so a failed request still appears in the trace.
type Recorder struct {
	next   proxy.Port
	logger *slog.Logger

	mu    sync.Mutex
	lines []string
}

// NewRecorder wraps next. A nil logger uses slog.Default().
func NewRecorder(next proxy.Port, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{next: next, logger: logger}
}

func (r *Recorder) record(parts ...string) {
	line := strings.Join(parts, ":")
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
	r.logger.Debug("port request", "trace", line)
}

// Lines returns the recorded trace.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// Take returns the recorded trace and resets it.
func (r *Recorder) Take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.lines
	r.lines = nil
	return out
}

func (r *Recorder) InitializeProxy(ctx context.Context, storeID string, onEvent proxy.EventFunc) error {
	r.record("InitializeProxy", storeID)
	return r.next.InitializeProxy(ctx, storeID, onEvent)
}

func (r *Recorder) SynchronizeProxy(ctx context.Context, storeID string, onSync proxy.SyncFunc) error {
	r.record("SynchronizeProxy", storeID)
	return r.next.SynchronizeProxy(ctx, storeID, onSync)
}

func (r *Recorder) HandleGet(ctx context.Context, storeID string) (*ir.Entity, error) {
	r.record("HandleGet", storeID)
	return r.next.HandleGet(ctx, storeID)
}

func (r *Recorder) HandleToList(ctx context.Context, storeID string) ([]ir.Entity, error) {
	r.record("HandleToList", storeID)
	return r.next.HandleToList(ctx, storeID)
}

func (r *Recorder) HandleSet(ctx context.Context, storeID string, value ir.Entity, originator, barrier string) error {
	r.record("HandleSet", storeID, value.ID, originator)
	return r.next.HandleSet(ctx, storeID, value, originator, barrier)
}

func (r *Recorder) HandleClear(ctx context.Context, storeID, originator, barrier string) error {
	r.record("HandleClear", storeID, originator)
	return r.next.HandleClear(ctx, storeID, originator, barrier)
}

func (r *Recorder) HandleStore(ctx context.Context, storeID string, value ir.Entity, keys []string, originator string) error {
	r.record("HandleStore", storeID, value.ID, originator)
	return r.next.HandleStore(ctx, storeID, value, keys, originator)
}

func (r *Recorder) HandleRemove(ctx context.Context, storeID, id string, keys []string, originator string) error {
	r.record("HandleRemove", storeID, id, originator)
	return r.next.HandleRemove(ctx, storeID, id, keys, originator)
}

func (r *Recorder) HandleRemoveMultiple(ctx context.Context, storeID string, items []store.RemoveItem, originator string) error {
	r.record("HandleRemoveMultiple", storeID, fmt.Sprint(len(items)), originator)
	return r.next.HandleRemoveMultiple(ctx, storeID, items, originator)
}

func (r *Recorder) HandleStream(ctx context.Context, storeID string, pageSize int, forward bool) (string, int64, error) {
	r.record("HandleStream", storeID, fmt.Sprint(pageSize), fmt.Sprint(forward))
	return r.next.HandleStream(ctx, storeID, pageSize, forward)
}

func (r *Recorder) StreamCursorNext(ctx context.Context, storeID, cursorID string) (store.Page, error) {
	r.record("StreamCursorNext", storeID)
	return r.next.StreamCursorNext(ctx, storeID, cursorID)
}

func (r *Recorder) StreamCursorClose(ctx context.Context, storeID, cursorID string) error {
	r.record("StreamCursorClose", storeID)
	return r.next.StreamCursorClose(ctx, storeID, cursorID)
}

func (r *Recorder) Dereference(ctx context.Context, storeID string, ref ir.Reference) (ir.Entity, error) {
	r.record("Dereference", storeID, ref.ID)
	return r.next.Dereference(ctx, storeID, ref)
}

var _ proxy.Port = (*Recorder)(nil)
