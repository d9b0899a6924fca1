package cli

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/roach88/cellsync/internal/arc"
	"github.com/roach88/cellsync/internal/handle"
	"github.com/roach88/cellsync/internal/harness"
	"github.com/roach88/cellsync/internal/ir"
	"github.com/roach88/cellsync/internal/journal"
	"github.com/roach88/cellsync/internal/manifest"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Journal string
	Metrics bool
	Timeout time.Duration
}

// StoreResult is the final state of one store.
type StoreResult struct {
	ID       string      `json:"id"`
	Kind     string      `json:"kind"`
	Version  int64       `json:"version"`
	Hash     string      `json:"hash"`
	Entities []ir.Entity `json:"entities"`
}

// RunResult holds the outcome of the run command.
type RunResult struct {
	Arc     string        `json:"arc"`
	Journal string        `json:"journal,omitempty"`
	Stores  []StoreResult `json:"stores"`
	Trace   []string      `json:"trace"`
	Metrics string        `json:"metrics,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <manifest>",
		Short: "Build an arc from a manifest and report its stores",
		Long: `Build an arc from a YAML or CUE manifest.

Stores are declared and seeded, every particle's handles are connected, and
the arc runs until its proxies are synchronized and every callback has been
delivered. The command then prints each store's version, hash and entities
together with the callbacks the particles received.

With --journal every store event is recorded in a SQLite journal and a
checkpoint of each store is taken at the end; 'cellsync replay' rebuilds
and verifies it.

Example:
  cellsync run ./arc.yaml
  cellsync run ./arc.cue --journal ./arc.db --metrics --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArc(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (created if missing)")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "include proxy metrics in the output")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "how long to wait for the arc to settle")

	return cmd
}

func runArc(ctx context.Context, opts *RunOptions, path string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, out.GetErrWriter())

	m, err := manifest.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load manifest", err)
	}
	logger.Debug("manifest loaded", "arc", m.Name, "stores", len(m.Stores), "particles", len(m.Particles))

	arcOpts := []arc.Option{arc.WithLogger(logger)}
	if opts.Journal != "" {
		j, err := journal.Open(opts.Journal, journal.WithLogger(logger))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				logger.Error("error closing journal", "error", closeErr)
			}
		}()
		arcOpts = append(arcOpts, arc.WithJournal(j))
	}
	var reg *prometheus.Registry
	if opts.Metrics {
		reg = prometheus.NewRegistry()
		arcOpts = append(arcOpts, arc.WithRegisterer(reg))
	}

	trace := &harness.Trace{}
	a, _, err := m.Build(ctx, func(id string) handle.Particle {
		return harness.NewTraceParticle(id, trace)
	}, arcOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build arc", err)
	}
	defer a.Close()

	idleCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := a.Idle(idleCtx); err != nil {
		return WrapExitError(ExitFailure, "arc did not settle", err)
	}
	if err := a.Checkpoint(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to checkpoint journal", err)
	}

	result := RunResult{Arc: m.Name, Journal: opts.Journal, Trace: trace.Lines()}
	for _, decl := range m.Stores {
		sr, err := storeResult(ctx, a, decl.ID, decl.Kind)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read store", err)
		}
		result.Stores = append(result.Stores, sr)
	}
	if reg != nil {
		text, err := dumpMetrics(reg)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to gather metrics", err)
		}
		result.Metrics = text
	}
	logger.Info("arc settled", "arc", m.Name, "stores", len(result.Stores), "callbacks", len(result.Trace))

	if out.JSON() {
		return out.Result(result, nil)
	}
	printRun(out, result)
	return nil
}

func storeResult(ctx context.Context, a *arc.Arc, id, kind string) (StoreResult, error) {
	snap, err := a.Stores().Snapshot(ctx, id)
	if err != nil {
		return StoreResult{}, err
	}
	return snapshotResult(id, kind, snap)
}

func snapshotResult(id, kind string, snap ir.Snapshot) (StoreResult, error) {
	hash, err := ir.SnapshotHash(snap)
	if err != nil {
		return StoreResult{}, fmt.Errorf("hash %s: %w", id, err)
	}
	entities := make([]ir.Entity, len(snap.Model))
	for i, row := range snap.Model {
		entities[i] = row.Value
	}
	return StoreResult{ID: id, Kind: kind, Version: snap.Version, Hash: hash, Entities: entities}, nil
}

// dumpMetrics renders every gathered family in the Prometheus text format.
func dumpMetrics(g prometheus.Gatherer) (string, error) {
	families, err := g.Gather()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

func printRun(out *OutputFormatter, result RunResult) {
	out.Printf("Arc: %s\n\n", result.Arc)
	printStores(out, result.Stores)

	out.Printf("\nCallbacks: %d\n", len(result.Trace))
	for _, line := range result.Trace {
		out.Printf("  %s\n", line)
	}
	if result.Metrics != "" {
		out.Printf("\nMetrics:\n%s", result.Metrics)
	}
}

func printStores(out *OutputFormatter, stores []StoreResult) {
	for _, st := range stores {
		out.Printf("%s (%s) version %d %s\n", st.ID, st.Kind, st.Version, st.Hash)
		for _, e := range st.Entities {
			out.Printf("  %s %s\n", e.ID, renderData(e.Data))
		}
	}
}

func renderData(data ir.IRObject) string {
	if len(data) == 0 {
		return "{}"
	}
	b, err := data.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(b)
}
