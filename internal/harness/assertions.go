package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Trace    []string // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, line := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, line)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns
// one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			err = assertFinalState(result.State, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

// assertTraceContains checks that the line appears in the trace.
func assertTraceContains(trace []string, a Assertion) error {
	if slices.Contains(trace, a.Line) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("line %q", a.Line),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the lines appear in the given order.
// Lines don't need to be consecutive; each match must follow the previous
// one.
func assertTraceOrder(trace []string, a Assertion) error {
	from := 0
	for _, want := range a.Lines {
		pos := slices.Index(trace[from:], want)
		if pos < 0 {
			actual := fmt.Sprintf("missing line: %s", want)
			if slices.Contains(trace, want) {
				actual = fmt.Sprintf("%q appears only before the preceding line", want)
			}
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("lines in order: %q", a.Lines),
				Actual:   actual,
				Trace:    trace,
			}
		}
		from += pos + 1
	}
	return nil
}

// assertTraceCount checks that the line appears exactly Count times.
func assertTraceCount(trace []string, a Assertion) error {
	count := 0
	for _, line := range trace {
		if line == a.Line {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %q", a.Count, a.Line),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks a store's final version and ids.
func assertFinalState(state map[string]StoreState, a Assertion) error {
	st, ok := state[a.Store]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("store %s", a.Store),
			Actual:   "store not declared",
		}
	}
	if a.Version != nil && st.Version != *a.Version {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s at version %d", a.Store, *a.Version),
			Actual:   fmt.Sprintf("version %d", st.Version),
		}
	}
	if a.IDs != nil && !slices.Equal(st.IDs, a.IDs) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s holding %v", a.Store, a.IDs),
			Actual:   fmt.Sprintf("holding %v", st.IDs),
		}
	}
	return nil
}
