package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/cellsync/internal/arc"
	"github.com/roach88/cellsync/internal/handle"
	"github.com/roach88/cellsync/internal/harness"
	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/store"
)

// DemoOptions holds flags for the demo command.
type DemoOptions struct {
	*RootOptions
	Items   int
	Timeout time.Duration
}

// DemoParticle summarizes what one demo particle saw.
type DemoParticle struct {
	ID         string `json:"id"`
	Updates    int    `json:"updates"`
	Cached     int    `json:"cached"`
	Consistent bool   `json:"consistent"`
}

// DemoResult holds the outcome of the demo command.
type DemoResult struct {
	// Trace is the callback trace of the sequential phase.
	Trace      []string       `json:"trace"`
	Particles  []DemoParticle `json:"particles"`
	Store      StoreResult    `json:"store"`
	Consistent bool           `json:"consistent"`
}

// NewDemoCommand creates the demo command.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DemoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run two particles against one collection",
		Long: `Run two particles, P1 and P2, against the collection "bar".

The sequential phase connects both particles, then stores and removes an
entity directly on the store; the callback trace is printed. The
concurrent phase has both particles write --items entities each through
their own handles at the same time, then checks that every handle's cached
view matches the store.

Exit codes:
  0 - Every handle converged on the store
  1 - A handle's view differs from the store`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Items, "items", 10, "entities each particle writes in the concurrent phase")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "how long to wait for each phase to settle")

	return cmd
}

func runDemo(ctx context.Context, opts *DemoOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Items < 0 {
		return NewExitError(ExitCommandError, "--items must be non-negative")
	}
	out := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, out.GetErrWriter())

	a := arc.New("demo", arc.WithLogger(logger))
	defer a.Close()

	idle := func() error {
		idleCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
		return a.Idle(idleCtx)
	}

	if err := a.DeclareStore(ctx, arc.StoreSpec{ID: "bar", Kind: store.KindCollection}); err != nil {
		return WrapExitError(ExitCommandError, "failed to declare store", err)
	}
	bar, err := a.Stores().Collection("bar")
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to look up store", err)
	}

	trace := &harness.Trace{}
	ids := []string{"P1", "P2"}
	handles := make([]*handle.Collection, len(ids))
	for i, id := range ids {
		h, err := a.ConnectCollection(ctx, harness.NewTraceParticle(id, trace), "bar", handle.ReadWrite)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to connect particle", err)
		}
		handles[i] = h
	}

	steps := []func() error{
		func() error { return nil },
		func() error { return bar.Store(ctx, ir.NewEntity("v1", ir.Fields("value", "hello")), []string{"k1"}) },
		func() error { return bar.Remove(ctx, "v1", []string{"k1"}) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return WrapExitError(ExitCommandError, "sequential phase failed", err)
		}
		if err := idle(); err != nil {
			return WrapExitError(ExitFailure, "arc did not settle", err)
		}
	}
	result := DemoResult{Trace: trace.Lines(), Consistent: true}
	logger.Debug("sequential phase done", "callbacks", len(result.Trace))

	g, gctx := errgroup.WithContext(ctx)
	for i, h := range handles {
		i := i
		h := h
		g.Go(func() error {
			for n := 0; n < opts.Items; n++ {
				e := ir.NewEntity(fmt.Sprintf("%s-%d", ids[i], n), ir.Fields("writer", ids[i], "n", n))
				if err := h.Store(gctx, e); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitCommandError, "concurrent phase failed", err)
	}
	if err := idle(); err != nil {
		return WrapExitError(ExitFailure, "arc did not settle", err)
	}

	stored, err := bar.List(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list store", err)
	}
	want := entityIDs(stored)
	concurrent := trace.Lines()[len(result.Trace):]
	for i, h := range handles {
		cached, err := h.List(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list handle", err)
		}
		got := entityIDs(cached)
		p := DemoParticle{
			ID:         ids[i],
			Updates:    countPrefix(concurrent, ids[i]+" update "),
			Cached:     len(cached),
			Consistent: slices.Equal(got, want),
		}
		result.Particles = append(result.Particles, p)
		result.Consistent = result.Consistent && p.Consistent
	}
	if result.Store, err = storeResult(ctx, a, "bar", store.KindCollection.String()); err != nil {
		return WrapExitError(ExitCommandError, "failed to read store", err)
	}

	var failure *CLIError
	if !result.Consistent {
		failure = &CLIError{Code: "E_DIVERGED", Message: "a handle's view differs from the store"}
	}
	if out.JSON() {
		return out.Result(result, failure)
	}

	out.Printf("Sequential phase:\n")
	for _, line := range result.Trace {
		out.Printf("  %s\n", line)
	}
	out.Printf("\nConcurrent phase: %d writers x %d entities, store at version %d\n", len(ids), opts.Items, result.Store.Version)
	for _, p := range result.Particles {
		status := "✓"
		if !p.Consistent {
			status = "✗"
		}
		out.Printf("  %s %s: %d updates, %d cached\n", status, p.ID, p.Updates, p.Cached)
	}
	if failure != nil {
		return NewExitError(ExitFailure, failure.Message)
	}
	out.Printf("\n✓ Every handle converged on the store\n")
	return nil
}

// entityIDs returns the sorted ids of es.
func entityIDs(es []ir.Entity) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	slices.Sort(out)
	return out
}

func countPrefix(lines []string, prefix string) int {
	n := 0
	for _, line := range lines {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}
