package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/cellsync/internal/arc"
	"github.com/roach88/cellsync/internal/channel"
	"github.com/roach88/cellsync/internal/handle"
	"github.com/roach88/cellsync/internal/ids"
	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/proxy"
	"github.com/roach88/cellsync/internal/store"
)

// Harness executes one scenario against a fresh arc.
type Harness struct {
	scenario *Scenario
	arc      *arc.Arc
	port     *ScriptedPort
	trace    *Trace
	handles  map[string]handle.Handle // "particle/store"
	logger   *slog.Logger
}

// Option configures Run.
type Option func(*Harness)

// WithLogger sets the logger for the arc under test. Defaults to a
// discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh arc with ids drawn from a sequence named
// after the scenario, so traces are reproducible.
//
// Execution flow:
// 1. Declare and seed stores, connect particles
// 2. Execute steps in order
// 3. Drain the scheduler and capture final store state
// 4. Compare the trace with expect and evaluate assertions
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		scenario: scenario,
		trace:    &Trace{},
		handles:  make(map[string]handle.Handle),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}

	factory := func(local *channel.LocalPort, stores *store.Manager, sched *proxy.Scheduler) proxy.Port {
		h.port = NewScriptedPort(local, stores, sched, h.trace, scenario.AutoSync)
		return h.port
	}
	particles := func(id string) handle.Particle { return NewTraceParticle(id, h.trace) }

	a, conns, err := scenario.Manifest().Build(ctx, particles,
		arc.WithPort(factory),
		arc.WithLogger(h.logger),
		arc.WithIDGenerator(ids.NewSequenceGenerator(scenario.Name)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build arc: %w", err)
	}
	h.arc = a
	defer func() {
		_ = h.port.Close()
		_ = a.Close()
	}()

	for _, c := range conns {
		h.handles[c.Particle.ID()+"/"+c.Handle.Name()] = c.Handle
	}

	for i, step := range scenario.Steps {
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	if err := a.Idle(ctx); err != nil {
		return nil, fmt.Errorf("final idle: %w", err)
	}

	result := NewResult()
	result.Trace = h.trace.Lines()
	if err := h.captureState(ctx, result); err != nil {
		return nil, err
	}

	if scenario.Expect != nil {
		if diff := cmp.Diff(scenario.Expect, result.Trace); diff != "" {
			result.AddError(fmt.Sprintf("trace mismatch (-expect +actual):\n%s", diff))
		}
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) execute(ctx context.Context, step Step) error {
	verb, target, err := step.verb()
	if err != nil {
		return err
	}

	switch verb {
	case "idle":
		return h.arc.Idle(ctx)
	case "sync":
		return h.port.Answer(ctx, target)
	case "write":
		run := func() error { return h.write(ctx, step.Write) }
		if step.Write.Drop {
			return h.port.Dropping(target, run)
		}
		return run()
	}

	run := func() error { return h.mutate(ctx, verb, target, step) }
	if step.Drop {
		return h.port.Dropping(target, run)
	}
	return run()
}

// mutate writes the store directly, bypassing every proxy.
func (h *Harness) mutate(ctx context.Context, verb, storeID string, step Step) error {
	var wopts []store.WriteOption
	if step.Version != 0 {
		wopts = append(wopts, store.WithVersion(step.Version))
	}
	if step.Originator != "" {
		wopts = append(wopts, store.WithOriginator(step.Originator))
	}

	var value ir.Entity
	if step.Entity != nil {
		e, err := step.Entity.Entity()
		if err != nil {
			return err
		}
		value = e
	}
	keys := step.Keys
	if verb == "store" && len(keys) == 0 {
		keys = []string{"k-" + value.ID}
	}

	s, err := h.arc.Stores().Lookup(storeID)
	if err != nil {
		return err
	}
	switch st := s.(type) {
	case store.VariableStore:
		switch verb {
		case "set":
			return st.Set(ctx, value, wopts...)
		case "clear":
			return st.Clear(ctx, wopts...)
		}
	case store.CollectionStore:
		switch verb {
		case "store":
			return st.Store(ctx, value, keys, wopts...)
		case "remove":
			return st.Remove(ctx, step.ID, keys, wopts...)
		case "clear":
			return st.RemoveMultiple(ctx, nil, wopts...)
		}
	case *store.BigCollection:
		switch verb {
		case "store":
			return st.Store(ctx, value, keys, wopts...)
		case "remove":
			return st.Remove(ctx, step.ID, keys, wopts...)
		}
	}
	return fmt.Errorf("%s: not supported on %s store %s", verb, s.Kind(), storeID)
}

// write goes through the particle's handle and proxy.
func (h *Harness) write(ctx context.Context, w *WriteStep) error {
	hd, ok := h.handles[w.Particle+"/"+w.Store]
	if !ok {
		return fmt.Errorf("write: particle %s has no handle on %s", w.Particle, w.Store)
	}

	var value ir.Entity
	if w.Entity != nil {
		e, err := w.Entity.Entity()
		if err != nil {
			return err
		}
		value = e
	}

	switch target := hd.(type) {
	case *handle.Variable:
		switch w.Op {
		case OpSet:
			return target.Set(ctx, value)
		case OpClear:
			return target.Clear(ctx)
		}
	case *handle.Collection:
		switch w.Op {
		case OpStore:
			return target.Store(ctx, value)
		case OpRemove:
			return target.Remove(ctx, w.ID)
		case OpClear:
			return target.Clear(ctx)
		}
	case *handle.BigCollection:
		switch w.Op {
		case OpStore:
			return target.Store(ctx, value)
		case OpRemove:
			return target.Remove(ctx, w.ID)
		}
	}
	return fmt.Errorf("write %s: not supported on %s handle %s", w.Op, hd.Kind(), w.Store)
}

func (h *Harness) captureState(ctx context.Context, result *Result) error {
	for _, decl := range h.scenario.Stores {
		snap, err := h.arc.Stores().Snapshot(ctx, decl.ID)
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", decl.ID, err)
		}
		rowIDs := make([]string, len(snap.Model))
		for i, row := range snap.Model {
			rowIDs[i] = row.ID
		}
		result.State[decl.ID] = StoreState{Kind: decl.Kind, Version: snap.Version, IDs: rowIDs}
	}
	return nil
}
