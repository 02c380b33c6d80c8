package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/causeway/internal/ir"
	"github.com/roach88/causeway/internal/journal"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, entry := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", entry.Seq, describe(entry))
		}
	}

	return buf.String()
}

func describe(e TraceEvent) string {
	if e.Type == TraceKindPhase {
		return fmt.Sprintf("phase %s#%s %s", e.Phase, e.PhaseID, e.Outcome)
	}
	s := fmt.Sprintf("event %s from %s %v", e.Event, e.Phase, e.Targets)
	if e.Cancelled {
		s += " (cancelled)"
	}
	return s
}

// matchesEvent reports whether entry is an event matching the assertion's
// event type, phase, cancelled flag and payload subset.
func matchesEvent(entry TraceEvent, a Assertion) bool {
	if entry.Type != TraceKindEvent || entry.Event != a.Event {
		return false
	}
	if a.Phase != "" && entry.Phase != a.Phase {
		return false
	}
	if a.Cancelled != nil && entry.Cancelled != *a.Cancelled {
		return false
	}
	return matchPayload(entry.Payload, a.Payload)
}

// assertTraceContains checks if the trace contains a matching event.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, entry := range trace {
		if matchesEvent(entry, a) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("event %s%s with payload %v", a.Event, phaseSuffix(a.Phase), a.Payload),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

func phaseSuffix(name string) string {
	if name == "" {
		return ""
	}
	return " from " + name
}

// assertTraceOrder checks if event types first appear in the specified
// order. Events don't need to be consecutive.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, entry := range trace {
		if entry.Type != TraceKindEvent {
			continue
		}
		if _, seen := positions[entry.Event]; !seen {
			positions[entry.Event] = i + 1 // 1-indexed for readability
		}
	}

	for _, typ := range a.Events {
		if positions[typ] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all events present: %v", a.Events),
				Actual:   fmt.Sprintf("missing event: %s", typ),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Events); i++ {
		prev, curr := a.Events[i-1], a.Events[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks if matching events appear exactly Count times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, entry := range trace {
		if matchesEvent(entry, a) {
			count++
		}
	}

	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s%s", a.Count, a.Event, phaseSuffix(a.Phase)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks the world snapshot at a key. Expected fields
// are a subset match against the snapshot's canonical value.
func assertFinalState(state ir.IRObject, a Assertion) error {
	v, exists := state[a.Key]
	if a.Absent {
		if exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s to be absent", a.Key),
				Actual:   fmt.Sprintf("%s = %s", a.Key, canonical(v)),
			}
		}
		return nil
	}
	if !exists {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s to exist", a.Key),
			Actual:   fmt.Sprintf("not present in world (keys: %v)", state.SortedKeys()),
		}
	}

	obj, ok := v.(ir.IRObject)
	if !ok {
		return fmt.Errorf("final_state: %s is not an object", a.Key)
	}
	for _, field := range sortedKeys(a.Expect) {
		want, err := ir.FromAny(a.Expect[field])
		if err != nil {
			return fmt.Errorf("final_state: expect %q: %w", field, err)
		}
		got, present := obj[field]
		if !present {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q of %s to exist", field, a.Key),
				Actual:   fmt.Sprintf("%s = %s", a.Key, canonical(obj)),
			}
		}
		if !subsetEqual(got, want) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q of %s = %s", field, a.Key, canonical(want)),
				Actual:   fmt.Sprintf("field %q = %s", field, canonical(got)),
			}
		}
	}
	return nil
}

// assertPhaseOutcome queries the journal for phases named a.Phase that
// ended in a.Outcome. Count is exact when set, otherwise at least one
// phase must match.
func assertPhaseOutcome(ctx context.Context, j *journal.Journal, a Assertion) error {
	phases, err := j.ListByOutcome(ctx, ir.Outcome(a.Outcome))
	if err != nil {
		return fmt.Errorf("phase_outcome: %w", err)
	}

	count := 0
	for _, p := range phases {
		if p.Name == a.Phase {
			count++
		}
	}

	switch {
	case a.Count > 0 && count != a.Count:
		return &AssertionError{
			Type:     AssertPhaseOutcome,
			Expected: fmt.Sprintf("%d %s phases %s", a.Count, a.Phase, a.Outcome),
			Actual:   fmt.Sprintf("%d journaled", count),
		}
	case a.Count == 0 && count == 0:
		return &AssertionError{
			Type:     AssertPhaseOutcome,
			Expected: fmt.Sprintf("a %s phase %s", a.Phase, a.Outcome),
			Actual:   "none journaled",
		}
	}
	return nil
}

// matchPayload checks if the payload contains all expected fields
// (subset match). Extra fields in the payload are ignored.
func matchPayload(payload ir.IRObject, expected map[string]any) bool {
	if len(expected) == 0 {
		return true
	}
	for key, raw := range expected {
		want, err := ir.FromAny(raw)
		if err != nil {
			return false
		}
		got, exists := payload[key]
		if !exists || !subsetEqual(got, want) {
			return false
		}
	}
	return true
}

// subsetEqual compares got with want. Objects match when every field of
// want matches; arrays must have the same length and match element-wise.
func subsetEqual(got, want ir.IRValue) bool {
	switch w := want.(type) {
	case ir.IRObject:
		g, ok := got.(ir.IRObject)
		if !ok {
			return false
		}
		for k, wv := range w {
			gv, exists := g[k]
			if !exists || !subsetEqual(gv, wv) {
				return false
			}
		}
		return true
	case ir.IRArray:
		g, ok := got.(ir.IRArray)
		if !ok || len(g) != len(w) {
			return false
		}
		for i := range w {
			if !subsetEqual(g[i], w[i]) {
				return false
			}
		}
		return true
	default:
		return ir.Equal(got, want)
	}
}

func canonical(v ir.IRValue) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Journal *journal.Journal
	Ctx     context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides journal access for phase_outcome assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			err = assertFinalState(result.State, assertion)
		case AssertPhaseOutcome:
			if actx == nil || actx.Journal == nil {
				err = fmt.Errorf("assertion[%d]: phase_outcome requires journal context", i)
			} else {
				err = assertPhaseOutcome(actx.Ctx, actx.Journal, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
