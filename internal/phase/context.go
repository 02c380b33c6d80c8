package phase

import (
	"github.com/roach88/causeway/internal/cause"
	"github.com/roach88/causeway/internal/event"
	"github.com/roach88/causeway/internal/fault"
	"github.com/roach88/causeway/internal/transaction"
)

// State is a context's lifecycle state. Contexts only move forward:
// Open -> Completing -> Closed.
type State int

const (
	StateOpen State = iota
	StateCompleting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCompleting:
		return "completing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Context is one running phase. It is created by Tracker.Begin and
// consumed exactly once by Tracker.End.
type Context struct {
	id      string
	def     *Definition
	tracker *Tracker
	parent  *Context
	depth   int
	chain   *transaction.Chain
	frame   *cause.Frame
	state   State
	began   int64
	cause   cause.Cause
	values  cause.Context
	outcome *Outcome
}

// ID returns the phase instance ID.
func (c *Context) ID() string { return c.id }

// Phase returns the definition this context was begun from.
func (c *Context) Phase() *Definition { return c.def }

// State returns the lifecycle state.
func (c *Context) State() State { return c.state }

// Chain returns the context's transaction chain.
func (c *Context) Chain() *transaction.Chain { return c.chain }

// Parent returns the enclosing context; nil for the root idle context.
func (c *Context) Parent() *Context { return c.parent }

// Depth is 0 for the root idle context, 1 for a top-level phase.
func (c *Context) Depth() int { return c.depth }

// BeganSeq is the logical clock value at begin.
func (c *Context) BeganSeq() int64 { return c.began }

// Cause is the cause current right after the phase began.
func (c *Context) Cause() cause.Cause { return c.cause }

// Values is the context map as configured at begin, including values
// inherited from enclosing phases.
func (c *Context) Values() cause.Context { return c.values }

// Has reports whether the context was configured with key name.
func (c *Context) Has(name string) bool { return c.values.Has(name) }

// Outcome returns the result once the context is closed.
func (c *Context) Outcome() (Outcome, bool) {
	if c.outcome == nil {
		return Outcome{}, false
	}
	return *c.outcome, true
}

// IsIdle reports whether c is the tracker's root context.
func (c *Context) IsIdle() bool { return c.parent == nil }

func (c *Context) String() string {
	return c.def.Name() + "#" + c.id
}

// Require returns the value key was configured with at begin, or a
// missing-context fault. It never substitutes a default.
func Require[T any](c *Context, key cause.Key[T]) (T, error) {
	v, ok := cause.Value(c.values, key)
	if !ok {
		return v, fault.MissingContext(key.Name()).InPhase(c.def.Name())
	}
	return v, nil
}

// Get returns the value key was configured with at begin.
func Get[T any](c *Context, key cause.Key[T]) (T, bool) {
	return cause.Value(c.values, key)
}

// sink adapts a context to transaction.EventSink.
type sink struct {
	c *Context
}

func (s sink) Convert(b transaction.Batch, cs cause.Cause, ctx cause.Context) event.Event {
	return s.c.def.convert(s.c, b, cs, ctx)
}

func (s sink) Dispatch(e event.Event) bool {
	return s.c.tracker.dispatcher.Dispatch(e)
}
