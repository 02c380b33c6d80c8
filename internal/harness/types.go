package harness

import (
	"math"

	"github.com/roach88/causeway/internal/event"
	"github.com/roach88/causeway/internal/ir"
	"github.com/roach88/causeway/internal/phase"
)

// Trace entry types.
const (
	TraceKindEvent = "event"
	TraceKindPhase = "phase"
)

// TraceEvent is one entry of a scenario trace: an event as the last
// listener saw it, or a phase as it ended. Nested phases end, and dispatch
// their events, before the phase around them.
type TraceEvent struct {
	Type string `json:"type"` // "event" or "phase"
	Seq  int64  `json:"seq"`  // position in the trace, from 1

	// Phase is the ended phase, or the innermost phase the event came from.
	Phase string `json:"phase,omitempty"`

	// Event entries.
	Event     string      `json:"event,omitempty"`
	Cancelled bool        `json:"cancelled,omitempty"`
	Rejected  int         `json:"rejected,omitempty"`
	Targets   []string    `json:"targets,omitempty"`
	Payload   ir.IRObject `json:"-"`

	// Phase entries.
	PhaseID      string `json:"phase_id,omitempty"`
	Outcome      string `json:"outcome,omitempty"`
	Depth        int    `json:"depth,omitempty"`
	BeganSeq     int64  `json:"began_seq,omitempty"`
	EndedSeq     int64  `json:"ended_seq,omitempty"`
	Transactions int    `json:"transactions,omitempty"`
}

// StepResult is how one top-level step ended.
type StepResult struct {
	Name    string `json:"name"`
	PhaseID string `json:"phase_id,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace contains events and ended phases in the order they happened.
	Trace []TraceEvent `json:"trace"`

	// Steps holds one entry per flow step.
	Steps []StepResult `json:"steps"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the final world state keyed by snapshot key.
	State ir.IRObject `json:"state,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Steps:  []StepResult{},
		Errors: []string{},
		State:  ir.IRObject{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// tracer builds the trace. It is a phase observer and, through listener,
// the last listener on the bus, so events are recorded with their final
// cancellation and rejections. Both run on the simulation goroutine.
type tracer struct {
	trace []TraceEvent
}

func (t *tracer) add(e TraceEvent) {
	e.Seq = int64(len(t.trace) + 1)
	t.trace = append(t.trace, e)
}

func (t *tracer) PhaseBegan(*phase.Context) {}

func (t *tracer) PhaseEnded(c *phase.Context, out phase.Outcome) {
	t.add(TraceEvent{
		Type:         TraceKindPhase,
		Phase:        c.Phase().Name(),
		PhaseID:      out.PhaseID,
		Outcome:      string(out.Result),
		Depth:        c.Depth(),
		BeganSeq:     out.BeganSeq,
		EndedSeq:     out.EndedSeq,
		Transactions: c.Chain().Len(),
	})
}

func (t *tracer) listener() event.Listener {
	return event.Listener{
		Name:     "harness.trace",
		Priority: event.Priority(math.MaxInt32),
		Handle: func(e event.Event) {
			entry := TraceEvent{
				Type:      TraceKindEvent,
				Phase:     phaseOf(e),
				Event:     e.Type(),
				Cancelled: e.Cancelled(),
				Targets:   targets(e),
				Payload:   e.Payload(),
			}
			if f, ok := e.(event.Filterable); ok {
				entry.Rejected = len(f.Rejected())
			}
			t.add(entry)
		},
	}
}

// targets returns the snapshot keys an event reports on, in event order.
func targets(e event.Event) []string {
	var out []string
	switch ev := e.(type) {
	case *event.ChangeBlockEvent:
		for _, t := range ev.Transitions {
			out = append(out, t.Original.Key())
		}
	case *event.SpawnEntityEvent:
		for _, s := range ev.Entities {
			out = append(out, s.Entity.Key())
		}
	case *event.DestructEntityEvent:
		for _, ent := range ev.Entities {
			out = append(out, ent.Key())
		}
	case *event.ChangeInventoryEvent:
		for _, t := range ev.Transitions {
			out = append(out, t.Original.Key())
		}
	case *event.ClickContainerEvent:
		if ev.Cursor.Original.Inventory != "" {
			out = append(out, ev.Cursor.Original.Key())
		}
		for _, t := range ev.Transitions {
			out = append(out, t.Original.Key())
		}
	}
	return out
}
