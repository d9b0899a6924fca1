package harness

import (
	"fmt"
	"sync"
)

// Trace is an append-only list of trace lines shared by the scripted port
// and the trace particles of one run.
//
// Thread-safety: Trace is safe for concurrent use.
type Trace struct {
	mu    sync.Mutex
	lines []string
}

// Add appends a formatted line.
func (t *Trace) Add(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	t.mu.Lock()
	t.lines = append(t.lines, line)
	t.mu.Unlock()
}

// Lines returns a copy of the trace.
func (t *Trace) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string{}, t.lines...)
}

// StoreState is the final state of one store.
type StoreState struct {
	Kind    string   `json:"kind"`
	Version int64    `json:"version"`
	IDs     []string `json:"ids"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when the trace matches expect and every assertion holds.
	Pass bool `json:"pass"`

	Trace []string `json:"trace"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// State holds each declared store's final version and ids.
	State map[string]StoreState `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []string{},
		Errors: []string{},
		State:  make(map[string]StoreState),
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
