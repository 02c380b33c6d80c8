package phase

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/roach88/causeway/internal/cause"
	"github.com/roach88/causeway/internal/event"
	"github.com/roach88/causeway/internal/fault"
	"github.com/roach88/causeway/internal/ir"
	"github.com/roach88/causeway/internal/transaction"
)

// IDGenerator generates phase instance IDs.
// Implemented by engine.UUIDv7Generator (production) and engine.FixedGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// Clock stamps phases with logical sequence numbers.
type Clock interface {
	Next() int64
}

// Dispatcher delivers events. *event.Bus implements it.
type Dispatcher interface {
	Dispatch(e event.Event) (cancelled bool)
}

// DefaultMaxDepth is the default limit on nested phases.
const DefaultMaxDepth = 64

// Tracker is the phase stack of one world.
//
// Thread-safety model:
//   - every method must be called from the world's simulation goroutine
//   - the root idle context is created by NewTracker and never popped
//
// INVARIANTS:
//   - contexts[0] is the idle context; contexts[i].parent == contexts[i-1]
//   - each context's cause frame is pushed at Begin and closed when it is popped
//   - End pops exactly the innermost context; anything else panics
type Tracker struct {
	stack      *cause.Stack
	restorer   transaction.Restorer
	dispatcher Dispatcher
	ids        IDGenerator
	clock      Clock
	observer   Observer
	maxDepth   int
	contexts   []*Context
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithObserver sets the observer notified of phase begin and end.
func WithObserver(o Observer) TrackerOption {
	return func(t *Tracker) {
		if o != nil {
			t.observer = o
		}
	}
}

// WithIDGenerator sets the phase ID generator.
func WithIDGenerator(g IDGenerator) TrackerOption {
	return func(t *Tracker) { t.ids = g }
}

// WithClock sets the logical clock.
func WithClock(c Clock) TrackerOption {
	return func(t *Tracker) { t.clock = c }
}

// WithMaxDepth limits how many phases may be nested.
//
// Default: 64 (DefaultMaxDepth)
func WithMaxDepth(n int) TrackerOption {
	return func(t *Tracker) {
		if n > 0 {
			t.maxDepth = n
		}
	}
}

type sequentialIDs struct{ n int }

func (g *sequentialIDs) Generate() string {
	g.n++
	return "phase-" + strconv.Itoa(g.n)
}

type counter struct{ n int64 }

func (c *counter) Next() int64 {
	c.n++
	return c.n
}

// NewTracker creates a tracker whose root idle context is already open.
// r receives forced restores during rollback; d receives committed events.
func NewTracker(r transaction.Restorer, d Dispatcher, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		stack:      cause.NewStack(),
		restorer:   r,
		dispatcher: d,
		ids:        &sequentialIDs{},
		clock:      &counter{},
		observer:   nopObserver{},
		maxDepth:   DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.dispatcher == nil {
		t.dispatcher = event.NewBus()
	}

	root := &Context{id: Idle.Name(), def: Idle, tracker: t, state: StateOpen}
	root.frame = t.stack.PushFrame()
	root.frame.PushCause(Source{Phase: Idle.Name(), Kind: ir.KindIdle})
	root.cause = t.stack.CurrentCause()
	root.values = t.stack.CurrentContext()
	root.chain = transaction.NewChain(root.id, r)
	t.contexts = []*Context{root}
	return t
}

// Option configures one Begin call.
type Option func(*beginConfig)

type beginConfig struct {
	id     string
	causes []any
	apply  []func(*cause.Stack)
}

// With sets a context value for the phase. Values are scoped to the
// phase's cause frame and are visible to nested phases.
func With[T any](key cause.Key[T], value T) Option {
	return func(cfg *beginConfig) {
		cfg.apply = append(cfg.apply, func(s *cause.Stack) { cause.Set(s, key, value) })
	}
}

// WithCause pushes an extra cause after the phase's own Source.
func WithCause(c any) Option {
	return func(cfg *beginConfig) { cfg.causes = append(cfg.causes, c) }
}

// WithID fixes the phase instance ID instead of generating one.
func WithID(id string) Option {
	return func(cfg *beginConfig) { cfg.id = id }
}

// Begin pushes a new context for def on top of the current one.
//
// Returns a *fault.Error (not a panic) when def requires a context key
// that is not set, or when the depth limit is reached.
func (t *Tracker) Begin(def *Definition, opts ...Option) (*Context, error) {
	if def == nil || def.Kind() == ir.KindIdle {
		return nil, fault.New(fault.CodeIdleCapture, "the idle phase cannot be begun")
	}
	if d := t.Depth(); d >= t.maxDepth {
		return nil, fault.New(fault.CodeStackOverflow, "phase depth %d reached limit %d", d, t.maxDepth).
			InPhase(def.Name()).
			WithDump(t.Dump())
	}

	var cfg beginConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	id := cfg.id
	if id == "" {
		id = t.ids.Generate()
	}

	parent := t.Current()
	c := &Context{
		id:      id,
		def:     def,
		tracker: t,
		parent:  parent,
		depth:   len(t.contexts),
		state:   StateOpen,
		began:   t.clock.Next(),
	}

	c.frame = t.stack.PushFrame()
	c.frame.PushCause(Source{Phase: def.Name(), Kind: def.Kind()})
	for _, extra := range cfg.causes {
		c.frame.PushCause(extra)
	}
	for _, apply := range cfg.apply {
		apply(t.stack)
	}
	for _, name := range def.spec.Requires {
		if !t.stack.Has(name) {
			c.frame.Close()
			return nil, fault.MissingContext(name).InPhase(def.Name())
		}
	}

	c.cause = t.stack.CurrentCause()
	c.values = t.stack.CurrentContext()
	c.chain = transaction.NewChain(id, t.restorer)
	t.contexts = append(t.contexts, c)

	slog.Debug("phase began",
		"phase", def.Name(),
		"phase_id", id,
		"depth", c.depth,
		"parent", parent.def.Name(),
	)
	t.observer.PhaseBegan(c)
	return c, nil
}

// Capture appends tx to the innermost context's chain. It returns false
// when only the idle context is open: the mutation is then untracked.
func (t *Tracker) Capture(tx transaction.Transaction) bool {
	c := t.Current()
	if c.IsIdle() {
		return false
	}
	t.checkOpen(c, "capture "+string(tx.Kind()))
	c.chain.Append(tx)
	return true
}

// Nest captures tx and keeps it open as the parent of later captures until
// release is called. Under the idle context release is a no-op and
// tracked is false.
func (t *Tracker) Nest(tx transaction.Transaction) (release func(), tracked bool) {
	c := t.Current()
	if c.IsIdle() {
		return func() {}, false
	}
	t.checkOpen(c, "nest "+string(tx.Kind()))
	return c.chain.Nest(tx).Close, true
}

func (t *Tracker) checkOpen(c *Context, op string) {
	if c.state != StateOpen {
		panic(fault.New(fault.CodePhaseClosed, "%s on %s phase", op, c.state).
			InPhase(c.def.Name()).
			With("phase_id", c.id))
	}
}

// End completes c: its chain is committed into events and, if an event is
// cancelled, rolled back per the phase's cancel policy. c must be the
// innermost context; anything else panics with a *fault.Error. The context
// is popped and its cause frame closed even if completion panics.
func (t *Tracker) End(c *Context) Outcome {
	if c.IsIdle() {
		panic(fault.New(fault.CodeIdleCapture, "the idle phase cannot be ended").WithDump(t.Dump()))
	}
	if top := t.Current(); top != c {
		panic(fault.New(fault.CodePhaseOrder, "end %s while %s is innermost", c, top).
			InPhase(c.def.Name()).
			WithDump(t.Dump()))
	}
	if c.state != StateOpen {
		panic(fault.New(fault.CodePhaseClosed, "end %s phase", c.state).InPhase(c.def.Name()))
	}

	c.state = StateCompleting
	defer t.pop(c)

	if n := c.chain.OpenScopes(); n > 0 {
		panic(fault.New(fault.CodeFrameOrder, "%d transaction scopes still open at end", n).
			InPhase(c.def.Name()).
			WithDump(c.chain.Dump()))
	}

	res := c.chain.Commit(t.stack, sink{c: c}, c.def.CancelPolicy())
	out := Outcome{
		PhaseID:          c.id,
		Result:           outcomeOf(res, c.chain.Len()),
		Events:           res.Events,
		Cancelled:        res.Cancelled,
		CancelledBatches: res.CancelledBatches,
		Rollback:         res.Rollback,
		BeganSeq:         c.began,
		EndedSeq:         t.clock.Next(),
	}
	c.outcome = &out

	slog.Debug("phase ended",
		"phase", c.def.Name(),
		"phase_id", c.id,
		"outcome", out.Result,
		"transactions", c.chain.Len(),
		"events", len(out.Events),
	)
	t.observer.PhaseEnded(c, out)
	return out
}

// pop removes c and closes its frame. The context leaves the stack before
// the frame closes so a corrupted frame stack cannot leave c behind.
func (t *Tracker) pop(c *Context) {
	top := len(t.contexts) - 1
	if t.contexts[top] != c {
		panic(fault.New(fault.CodePhaseOrder, "pop %s while %s is innermost", c, t.contexts[top]).
			InPhase(c.def.Name()).
			WithDump(t.Dump()))
	}
	t.contexts = t.contexts[:top]
	c.state = StateClosed
	c.frame.Close()
}

// Run begins def, calls work, and ends the phase. If work returns an error
// or panics, the phase's chain is rolled back instead of committed, the
// context is popped, and the error or panic is passed on. Work that returns
// with a nested phase still open is rolled back with every phase above it,
// then Run panics with a PHASE_ORDER fault.
func (t *Tracker) Run(def *Definition, work func(c *Context) error, opts ...Option) (Outcome, error) {
	c, err := t.Begin(def, opts...)
	if err != nil {
		if def == nil {
			return Outcome{}, err
		}
		return Outcome{}, fmt.Errorf("begin %s: %w", def.Name(), err)
	}

	finished := false
	defer func() {
		if !finished {
			t.abort(c, nil)
		}
	}()

	if werr := work(c); werr != nil {
		finished = true
		out := t.abort(c, werr)
		return out, fmt.Errorf("phase %s: %w", def.Name(), werr)
	}
	if top := t.Current(); top != c {
		f := fault.New(fault.CodePhaseOrder, "work for %s returned with %s innermost", c, top).
			InPhase(def.Name()).
			WithDump(t.Dump())
		finished = true
		t.abort(c, f)
		panic(f)
	}
	finished = true
	return t.End(c), nil
}

// abort rolls back c and every context left open above it. Secondary
// panics are logged so the original panic, if any, keeps propagating.
func (t *Tracker) abort(c *Context, werr error) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("phase abort failed",
				"phase", c.def.Name(),
				"phase_id", c.id,
				"panic", fmt.Sprint(r),
			)
		}
	}()

	if c.state == StateClosed {
		return t.abortOne(c, werr)
	}
	for top := t.Current(); top != c && !top.IsIdle(); top = t.Current() {
		slog.Error("phase left open by failed work", "phase", top.def.Name(), "phase_id", top.id)
		t.abortOne(top, nil)
	}
	return t.abortOne(c, werr)
}

func (t *Tracker) abortOne(c *Context, werr error) Outcome {
	if c.state == StateClosed {
		if c.outcome != nil {
			return *c.outcome
		}
		return Outcome{PhaseID: c.id}
	}

	c.state = StateCompleting
	defer t.pop(c)

	report := c.chain.Rollback()
	result := ir.OutcomeCancelled
	if report.Partial() {
		result = ir.OutcomeRolledBackPartial
	}
	out := Outcome{
		PhaseID:   c.id,
		Result:    result,
		Cancelled: true,
		Rollback:  report,
		BeganSeq:  c.began,
		EndedSeq:  t.clock.Next(),
		Err:       werr,
	}
	c.outcome = &out

	slog.Warn("phase rolled back",
		"phase", c.def.Name(),
		"phase_id", c.id,
		"restored", report.Restored,
		"failures", len(report.Failures),
		"error", werr,
	)
	t.observer.PhaseEnded(c, out)
	return out
}

// Current returns the innermost context. It is never nil.
func (t *Tracker) Current() *Context {
	return t.contexts[len(t.contexts)-1]
}

// Root returns the idle context.
func (t *Tracker) Root() *Context {
	return t.contexts[0]
}

// Depth returns the number of open phases, not counting idle.
func (t *Tracker) Depth() int {
	return len(t.contexts) - 1
}

// Tracking reports whether a mutation made now would be captured.
func (t *Tracker) Tracking() bool {
	return !t.Current().IsIdle()
}

// Stack returns the cause stack. Callers may push causes and frames; frames
// must be closed before the enclosing phase ends.
func (t *Tracker) Stack() *cause.Stack {
	return t.stack
}

// CurrentCause returns the cause of a mutation made now.
func (t *Tracker) CurrentCause() cause.Cause {
	return t.stack.CurrentCause()
}

// CurrentContext returns the context map of a mutation made now.
func (t *Tracker) CurrentContext() cause.Context {
	return t.stack.CurrentContext()
}

// Contexts returns the open contexts, idle first.
func (t *Tracker) Contexts() []*Context {
	return append([]*Context(nil), t.contexts...)
}

// Dump describes the phase stack, innermost first, for diagnostics.
func (t *Tracker) Dump() string {
	p := transaction.NewPrinter("Phase tracker").
		Add("Depth", t.Depth()).
		Add("Cause", t.stack.CurrentCause())
	for i := len(t.contexts) - 1; i >= 0; i-- {
		c := t.contexts[i]
		p.Section(fmt.Sprintf("[%d] %s", i, c)).
			Add("State", c.state).
			Add("Transactions", c.chain.Len()).
			Add("Began", c.began).
			End()
	}
	return p.String()
}
