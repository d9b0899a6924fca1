package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const scenariosDir = "../../testdata/scenarios"

func TestScenarioFiles(t *testing.T) {
	files, err := FindScenarios(scenariosDir, "")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		file := file
		t.Run(filepath.Base(file), func(t *testing.T) {
			RunWithGolden(t, file)
		})
	}
}

func TestScenarioFiles_Deterministic(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join(scenariosDir, "drop_and_resync.yaml"))
	require.NoError(t, err)

	first, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	second, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	a, err := Golden(scenario, first)
	require.NoError(t, err)
	b, err := Golden(scenario, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestFindScenarios_Filter(t *testing.T) {
	files, err := FindScenarios(scenariosDir, "drop_*")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "drop_and_resync.yaml", filepath.Base(files[0]))

	_, err = FindScenarios(scenariosDir, "[")
	assert.Error(t, err)
}

func TestGoldenPath(t *testing.T) {
	assert.Equal(t, filepath.Join("a", "b", "golden", "x.golden"), GoldenPath(filepath.Join("a", "b", "x.yaml")))
}

func mustParse(t *testing.T, src string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(src))
	require.NoError(t, err)
	return s
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	s := mustParse(t, `
name: mismatch
description: "wrong expectation"
reference_mode: false
auto_sync: true
stores: [{id: bar, kind: collection}]
particles: [{id: P1, handles: [{store: bar}]}]
steps:
  - idle: true
expect:
  - "P1 sync bar [v9]"
`)
	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "trace mismatch")
	assert.Equal(t, []string{"port sync bar@0", "P1 sync bar []"}, result.Trace)
}

func TestRun_SyncWithoutPendingRequest(t *testing.T) {
	s := mustParse(t, `
name: no_pending
description: "auto sync leaves nothing to answer"
auto_sync: true
stores: [{id: bar, kind: collection}]
particles: [{id: P1, handles: [{store: bar}]}]
steps:
  - sync: bar
`)
	_, err := Run(context.Background(), s)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoPendingSync)
}

func TestRun_WriteOnlyBigCollection(t *testing.T) {
	s := mustParse(t, `
name: big_writes
description: "write-only handles never register"
stores: [{id: big, kind: bigcollection}]
particles: [{id: P1, handles: [{store: big, caps: write}]}]
steps:
  - write: {particle: P1, store: big, op: store, entity: {id: b1}}
  - write: {particle: P1, store: big, op: store, entity: {id: b2}}
  - write: {particle: P1, store: big, op: remove, id: b1}
`)
	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass)
	assert.Empty(t, result.Trace)
	assert.Equal(t, StoreState{Kind: "bigcollection", Version: 3, IDs: []string{"b2"}}, result.State["big"])
}

func TestRun_PinnedVersionAndOriginator(t *testing.T) {
	s := mustParse(t, `
name: pinned
description: "external writes may pin versions and claim an originator"
reference_mode: false
auto_sync: true
stores: [{id: bar, kind: collection}]
particles: [{id: P1, handles: [{store: bar, caps: read}]}]
steps:
  - idle: true
  - store: bar
    entity: {id: v1}
    version: 1
    originator: P9
assertions:
  - type: trace_contains
    line: "P1 update bar +[v1] -[]"
  - type: final_state
    store: bar
    version: 1
`)
	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_UnsupportedMutation(t *testing.T) {
	s := mustParse(t, `
name: bad_set
description: "set is for variables"
stores: [{id: bar, kind: collection}]
steps:
  - set: bar
    entity: {id: v1}
`)
	_, err := Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported on collection store bar")
}

func TestParseScenario_Errors(t *testing.T) {
	base := "name: x\ndescription: d\nstores: [{id: bar, kind: collection}]\nparticles: [{id: P1, handles: [{store: bar}]}]\n"
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{"unknown field", base + "steps: [{idle: true}]\nasserts: []", "failed to parse YAML"},
		{"missing name", "description: d\nstores: [{id: bar, kind: collection}]\nsteps: [{idle: true}]", "name is required"},
		{"missing description", "name: x\nstores: [{id: bar, kind: collection}]\nsteps: [{idle: true}]", "description is required"},
		{"no steps", base, "steps list is required"},
		{"bad manifest", "name: x\ndescription: d\nstores: [{id: bar, kind: map}]\nsteps: [{idle: true}]", "unknown store kind"},
		{"empty step", base + "steps: [{}]", "steps[0]: no action"},
		{"two actions", base + "steps: [{sync: bar, idle: true}]", "more than one action: sync, idle"},
		{"unknown store", base + "steps: [{sync: foo}]", `sync: unknown store "foo"`},
		{"store without entity", base + "steps: [{store: bar}]", "entity with id is required"},
		{"remove without id", base + "steps: [{remove: bar}]", "remove: id is required"},
		{"write without handle", base + "steps: [{write: {particle: P2, store: bar, op: clear}}]", `particle "P2" has no handle on "bar"`},
		{"write bad op", base + "steps: [{write: {particle: P1, store: bar, op: upsert}}]", `unknown op "upsert"`},
		{"write store without entity", base + "steps: [{write: {particle: P1, store: bar, op: store}}]", "entity is required"},
		{"assertion type", base + "steps: [{idle: true}]\nassertions: [{type: eventually}]", `unknown assertion type "eventually"`},
		{"assertion order", base + "steps: [{idle: true}]\nassertions: [{type: trace_order, lines: [a]}]", "at least two lines"},
		{"assertion state", base + "steps: [{idle: true}]\nassertions: [{type: final_state, store: bar}]", "version or ids is required"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEvaluateAssertions(t *testing.T) {
	v2 := int64(2)
	result := &Result{
		Trace: []string{"a", "b", "a", "c"},
		State: map[string]StoreState{"bar": {Kind: "collection", Version: 2, IDs: []string{"v1"}}},
	}

	tests := []struct {
		name      string
		assertion Assertion
		wantErr   string
	}{
		{"contains", Assertion{Type: AssertTraceContains, Line: "c"}, ""},
		{"contains missing", Assertion{Type: AssertTraceContains, Line: "z"}, "not found in trace"},
		{"order", Assertion{Type: AssertTraceOrder, Lines: []string{"a", "b", "c"}}, ""},
		{"order repeated", Assertion{Type: AssertTraceOrder, Lines: []string{"b", "a"}}, ""},
		{"order wrong", Assertion{Type: AssertTraceOrder, Lines: []string{"c", "b"}}, "appears only before"},
		{"order missing", Assertion{Type: AssertTraceOrder, Lines: []string{"a", "z"}}, "missing line: z"},
		{"count", Assertion{Type: AssertTraceCount, Line: "a", Count: 2}, ""},
		{"count zero", Assertion{Type: AssertTraceCount, Line: "z", Count: 0}, ""},
		{"count wrong", Assertion{Type: AssertTraceCount, Line: "a", Count: 1}, "2 occurrences"},
		{"state", Assertion{Type: AssertFinalState, Store: "bar", Version: &v2, IDs: []string{"v1"}}, ""},
		{"state version", Assertion{Type: AssertFinalState, Store: "bar", Version: new(int64)}, "version 2"},
		{"state ids", Assertion{Type: AssertFinalState, Store: "bar", IDs: []string{}}, "holding [v1]"},
		{"state store", Assertion{Type: AssertFinalState, Store: "foo", IDs: []string{}}, "store not declared"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(result, []Assertion{tt.assertion})
			if tt.wantErr == "" {
				assert.Empty(t, errs)
				return
			}
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], tt.wantErr)
		})
	}
}
