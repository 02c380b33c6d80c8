package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/causeway/internal/phase"
	"github.com/roach88/causeway/internal/world"
)

// ErrStopped is returned for tasks submitted to, or left queued in, a
// stopped engine.
var ErrStopped = errors.New("engine stopped")

// IDGenerator generates phase instance IDs.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// Task is one unit of work for the simulation goroutine.
type Task struct {
	// Name labels the task in logs and results.
	Name string

	// Phase is the phase the work runs in. A nil Phase runs the work
	// under the idle phase: reads, or writes that are deliberately
	// untracked.
	Phase *phase.Definition

	// Options configure the phase (context values, extra causes).
	Options []phase.Option

	// Work mutates the world. Returning an error rolls the phase back.
	Work func(c *phase.Context, w *world.World) error

	done chan Result
}

// Result is what a task produced.
type Result struct {
	Task    string
	Outcome phase.Outcome
	Err     error
}

// Engine is the single-writer simulation loop of one world.
//
// Thread-safety model:
//   - Enqueue(), Submit(), Stop(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - World(): only from task Work, or after Run has returned
//
// INVARIANTS:
//   - tasks run one at a time, in the order they were enqueued
//   - every tracked task runs inside exactly one top-level phase
type Engine struct {
	world     *world.World
	clock     *Clock
	queue     *taskQueue
	ids       IDGenerator
	maxDepth  int
	observers phase.MultiObserver
	processed atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the logical clock, for example one created by
// ResumeClock from a journal's last seq.
func WithClock(c *Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithObserver adds a phase observer (journal, telemetry).
func WithObserver(o phase.Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithMaxPhaseDepth limits nested phases.
//
// Default: 64 (phase.DefaultMaxDepth)
func WithMaxPhaseDepth(n int) Option {
	return func(e *Engine) { e.maxDepth = n }
}

// New creates an engine around a fresh world named name. d receives the
// events of committed phases; ids names phase instances (UUIDv7 if nil).
func New(name string, d phase.Dispatcher, ids IDGenerator, opts ...Option) *Engine {
	e := &Engine{
		clock:    NewClock(),
		queue:    newTaskQueue(),
		ids:      ids,
		maxDepth: phase.DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.ids == nil {
		e.ids = UUIDv7Generator{}
	}

	e.world = world.New(name, d,
		phase.WithClock(e.clock),
		phase.WithIDGenerator(e.ids),
		phase.WithObserver(e.observers),
		phase.WithMaxDepth(e.maxDepth),
	)
	return e
}

// World returns the engine's world. Only touch it from task Work or after
// Run has returned.
func (e *Engine) World() *world.World {
	return e.world
}

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// QueueLen returns the number of tasks waiting.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Processed returns the number of tasks run so far.
func (e *Engine) Processed() int64 {
	return e.processed.Load()
}

// Enqueue submits a task without waiting for it.
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(t Task) bool {
	if t.Work == nil {
		slog.Warn("task without work dropped", "task", t.Name)
		return false
	}
	return e.queue.Enqueue(t)
}

// Submit enqueues t and waits for its result. Must not be called from the
// loop goroutine itself (task Work or listeners): that would wait on
// work queued behind the caller.
func (e *Engine) Submit(ctx context.Context, t Task) (Result, error) {
	t.done = make(chan Result, 1)
	if !e.Enqueue(t) {
		return Result{Task: t.Name}, fmt.Errorf("submit %s: %w", t.Name, ErrStopped)
	}
	select {
	case <-ctx.Done():
		return Result{Task: t.Name}, ctx.Err()
	case res := <-t.done:
		return res, nil
	}
}

// Run starts the single-writer loop. It blocks until ctx is cancelled or
// Stop is called and the queue has drained.
//
// CRITICAL: Must be called from exactly ONE goroutine.
//
// ERROR HANDLING: a task error rolls back its phase, is logged with the
// task context and reported in its Result; the loop continues. A task
// panic is logged and re-raised.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "world", e.world.Name())

	for {
		if ctx.Err() != nil {
			return e.cancelled(ctx)
		}
		if t, ok := e.queue.TryDequeue(); ok {
			e.process(t)
			continue
		}

		select {
		case <-ctx.Done():
			return e.cancelled(ctx)

		case <-e.queue.Wait():
			// The signal channel is closed with the queue, so a closed and
			// empty queue lands here immediately.
			if e.queue.Len() == 0 && e.queue.Closed() {
				slog.Info("engine stopping: queue closed", "world", e.world.Name())
				return nil
			}
		}
	}
}

// cancelled closes the queue and fails every task still in it.
func (e *Engine) cancelled(ctx context.Context) error {
	slog.Info("engine stopping: context cancelled", "world", e.world.Name(), "abandoned", e.queue.Len())
	e.queue.Close()
	e.abandon()
	return ctx.Err()
}

func (e *Engine) abandon() {
	for _, t := range e.queue.Drain() {
		slog.Warn("task abandoned", "task", t.Name)
		if t.done != nil {
			t.done <- Result{Task: t.Name, Err: ErrStopped}
		}
	}
}

// Stop closes the queue. Run finishes the queued tasks and returns.
func (e *Engine) Stop() {
	e.queue.Close()
}

// process runs one task.
// CRITICAL: Called only from Run() goroutine.
func (e *Engine) process(t Task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task panicked",
				"task", t.Name,
				"phase", phaseName(t),
				"panic", fmt.Sprint(r),
				"tracker", e.world.Tracker().Dump(),
			)
			panic(r)
		}
	}()

	res := e.execute(t)
	e.processed.Add(1)
	if res.Err != nil {
		logTaskError(t, res)
	}
	if t.done != nil {
		t.done <- res
	}
}

func (e *Engine) execute(t Task) Result {
	tr := e.world.Tracker()
	if t.Phase == nil {
		return Result{Task: t.Name, Err: t.Work(tr.Current(), e.world)}
	}
	out, err := tr.Run(t.Phase, func(c *phase.Context) error {
		return t.Work(c, e.world)
	}, t.Options...)
	return Result{Task: t.Name, Outcome: out, Err: err}
}

func phaseName(t Task) string {
	if t.Phase == nil {
		return phase.Idle.Name()
	}
	return t.Phase.Name()
}

// logTaskError logs a failed task with enough context to replay it.
func logTaskError(t Task, res Result) {
	slog.Error("task failed",
		"task", t.Name,
		"phase", phaseName(t),
		"phase_id", res.Outcome.PhaseID,
		"outcome", res.Outcome.Result,
		"error", res.Err,
	)
}
