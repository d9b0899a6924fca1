package harness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/cellsync/internal/ir"
)

// Golden renders a run as canonical JSON:
//
//	{"scenario": name, "state": {store: {ids, kind, version}}, "trace": [...]}
//
// The encoding is deterministic, so the bytes can be compared directly.
func Golden(scenario *Scenario, result *Result) ([]byte, error) {
	trace := make([]any, len(result.Trace))
	for i, line := range result.Trace {
		trace[i] = line
	}

	state := make(map[string]any, len(result.State))
	for id, st := range result.State {
		rowIDs := make([]any, len(st.IDs))
		for i, e := range st.IDs {
			rowIDs[i] = e
		}
		state[id] = map[string]any{
			"kind":    st.Kind,
			"version": st.Version,
			"ids":     rowIDs,
		}
	}

	return ir.MarshalCanonical(map[string]any{
		"scenario": scenario.Name,
		"state":    state,
		"trace":    trace,
	})
}

// GoldenPath returns the golden file for a scenario file:
// <dir>/golden/<name>.golden.
func GoldenPath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

// CompareGolden reports whether the golden file for scenarioFile holds
// exactly data.
func CompareGolden(scenarioFile string, data []byte) (bool, error) {
	golden, err := os.ReadFile(GoldenPath(scenarioFile))
	if err != nil {
		return false, fmt.Errorf("failed to read golden file: %w", err)
	}
	return bytes.Equal(golden, data), nil
}

// WriteGolden writes data as the golden file for scenarioFile.
func WriteGolden(scenarioFile string, data []byte) error {
	path := GoldenPath(scenarioFile)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// RunWithGolden loads and runs the scenario file, fails the test if the
// scenario does not pass, and compares the run against its golden file.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenarioFile string) *Result {
	t.Helper()

	scenario, err := LoadScenario(scenarioFile)
	if err != nil {
		t.Fatalf("load %s: %v", scenarioFile, err)
	}
	result, err := Run(context.Background(), scenario)
	if err != nil {
		t.Fatalf("run %s: %v", scenario.Name, err)
	}
	if !result.Pass {
		t.Errorf("scenario %s failed:\n%s", scenario.Name, strings.Join(result.Errors, "\n"))
	}
	AssertGolden(t, scenarioFile, scenario, result)
	return result
}

// AssertGolden compares an existing result against the golden file for
// scenarioFile without re-running it.
func AssertGolden(t *testing.T, scenarioFile string, scenario *Scenario, result *Result) {
	t.Helper()

	data, err := Golden(scenario, result)
	if err != nil {
		t.Fatalf("render golden for %s: %v", scenario.Name, err)
	}

	golden := GoldenPath(scenarioFile)
	g := goldie.New(t,
		goldie.WithFixtureDir(filepath.Dir(golden)),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, strings.TrimSuffix(filepath.Base(golden), ".golden"), data)
}
