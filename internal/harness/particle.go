package harness

import (
	"strings"

	"github.com/roach88/cellsync/internal/handle"
	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/store"
)

// TraceParticle is a particle that writes every callback it receives to a
// Trace.
type TraceParticle struct {
	id    string
	trace *Trace
}

// NewTraceParticle creates a particle writing to trace.
func NewTraceParticle(id string, trace *Trace) *TraceParticle {
	return &TraceParticle{id: id, trace: trace}
}

// ID returns the particle id.
func (p *TraceParticle) ID() string { return p.id }

// OnHandleSync records "P1 sync bar [v1|v2]" or "P1 sync foo v1".
func (p *TraceParticle) OnHandleSync(h handle.Handle, s handle.Sync) error {
	if h.Kind() == store.KindVariable {
		p.trace.Add("%s sync %s %s", p.id, h.Name(), renderEntity(s.Data))
		return nil
	}
	p.trace.Add("%s sync %s %s", p.id, h.Name(), renderList(s.List))
	return nil
}

// OnHandleUpdate records "P1 update bar +[v1] -[]", with " (own)" for the
// particle's own writes.
func (p *TraceParticle) OnHandleUpdate(h handle.Handle, u handle.Update) error {
	suffix := ""
	if u.Originator {
		suffix = " (own)"
	}
	if h.Kind() == store.KindVariable {
		p.trace.Add("%s update %s %s%s", p.id, h.Name(), renderEntity(u.Data), suffix)
		return nil
	}
	p.trace.Add("%s update %s +%s -%s%s", p.id, h.Name(), renderList(u.Added), renderList(u.Removed), suffix)
	return nil
}

// OnHandleDesync records "P1 desync bar".
func (p *TraceParticle) OnHandleDesync(h handle.Handle) error {
	p.trace.Add("%s desync %s", p.id, h.Name())
	return nil
}

func renderEntity(e *ir.Entity) string {
	if e == nil {
		return "null"
	}
	return e.ID
}

func renderList(es []ir.Entity) string {
	ids := make([]string, len(es))
	for i, e := range es {
		ids[i] = e.ID
	}
	return "[" + strings.Join(ids, "|") + "]"
}
