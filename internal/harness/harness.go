package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/causeway/internal/catalog"
	"github.com/roach88/causeway/internal/engine"
	"github.com/roach88/causeway/internal/event"
	"github.com/roach88/causeway/internal/journal"
	"github.com/roach88/causeway/internal/testutil"
)

// Harness holds the pieces of one scenario run: a fresh engine around a
// fresh world, an in-memory journal fed by the engine, and the trace.
type Harness struct {
	engine   *engine.Engine
	bus      *event.Bus
	journal  *journal.Journal
	recorder *journal.Recorder
	tracer   *tracer
	logger   *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh world with a fresh in-memory journal.
// Phase IDs come from testutil.SequentialIDs and seqs from a new engine
// clock, so the same scenario always produces the same trace.
//
// Execution flow:
//  1. Load the catalog (if any) into a registry
//  2. Start the engine loop
//  3. Run the setup actions untracked
//  4. Register the scenario's listeners
//  5. Prepare the flow steps and submit them in order
//  6. Stop the engine, then check expect clauses and assertions
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	reg, err := LoadRegistry(scenario.Catalog)
	if err != nil {
		return nil, err
	}

	j, err := journal.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory journal: %w", err)
	}
	defer j.Close()

	h := newHarness(ctx, scenario, j)

	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()
	stopped := false
	stop := func() error {
		if stopped {
			return nil
		}
		stopped = true
		h.engine.Stop()
		return <-done
	}
	defer stop()

	if len(scenario.Setup) > 0 {
		task, err := setupTask(reg, scenario.Setup)
		if err != nil {
			return nil, fmt.Errorf("failed to build setup: %w", err)
		}
		res, err := h.engine.Submit(ctx, task)
		if err != nil {
			return nil, fmt.Errorf("failed to execute setup: %w", err)
		}
		if res.Err != nil {
			return nil, fmt.Errorf("failed to execute setup: %w", res.Err)
		}
	}

	Subscribe(h.bus, scenario.Listeners)
	h.bus.Subscribe(event.AnyType, h.tracer.listener())

	results, err := engine.Intake(ctx, h.engine, engine.DefaultWorkers, scenario.Flow,
		func(_ context.Context, step Step) (engine.Task, error) {
			return BuildTask(reg, step)
		})
	if err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	// The world may only be read once the loop has returned.
	if err := stop(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if err := h.recorder.Err(); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}

	result := NewResult()
	result.Trace = h.tracer.trace
	result.State = h.engine.World().State()
	for i, res := range results {
		h.checkStep(i, scenario.Flow[i], res, result)
	}

	actx := &AssertionContext{
		Journal: h.journal,
		Ctx:     ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	h.logger.Info("scenario finished",
		"scenario", scenario.Name,
		"steps", len(results),
		"phases", h.recorder.Written(),
		"pass", result.Pass,
	)
	return result, nil
}

func newHarness(ctx context.Context, scenario *Scenario, j *journal.Journal) *Harness {
	name := scenario.World
	if name == "" {
		name = DefaultWorld
	}

	h := &Harness{
		bus:      event.NewBus(),
		journal:  j,
		recorder: j.Recorder(ctx),
		tracer:   &tracer{trace: []TraceEvent{}},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	h.engine = engine.New(name, h.bus, testutil.NewSequentialIDs(scenario.PhaseIDPrefix),
		engine.WithObserver(h.tracer),
		engine.WithObserver(h.recorder),
	)
	return h
}

// checkStep records a step's result and compares it with its expect
// clause. A step without one must not fail.
func (h *Harness) checkStep(i int, step Step, res engine.Result, result *Result) {
	sr := StepResult{
		Name:    res.Task,
		PhaseID: res.Outcome.PhaseID,
		Outcome: string(res.Outcome.Result),
	}
	if res.Err != nil {
		sr.Error = res.Err.Error()
	}
	result.Steps = append(result.Steps, sr)

	where := fmt.Sprintf("flow[%d] (%s)", i, res.Task)
	if step.Expect == nil {
		if res.Err != nil {
			result.AddError(fmt.Sprintf("%s: unexpected error: %v", where, res.Err))
		}
		return
	}

	if step.Expect.Outcome != "" && sr.Outcome != step.Expect.Outcome {
		result.AddError(fmt.Sprintf("%s: expected outcome %s, got %s", where, step.Expect.Outcome, sr.Outcome))
	}
	switch {
	case step.Expect.Error == "" && res.Err != nil:
		result.AddError(fmt.Sprintf("%s: unexpected error: %v", where, res.Err))
	case step.Expect.Error != "" && res.Err == nil:
		result.AddError(fmt.Sprintf("%s: expected error containing %q, got none", where, step.Expect.Error))
	case step.Expect.Error != "" && !strings.Contains(res.Err.Error(), step.Expect.Error):
		result.AddError(fmt.Sprintf("%s: expected error containing %q, got %v", where, step.Expect.Error, res.Err))
	}

	h.logger.Debug("flow step validated",
		"step", i,
		"phase_id", sr.PhaseID,
		"expected_outcome", step.Expect.Outcome,
		"actual_outcome", sr.Outcome,
	)
}

// LoadRegistry returns the built-in phases plus the catalog in dir.
// An empty dir yields the built-in phases only.
func LoadRegistry(dir string) (*catalog.Registry, error) {
	if dir == "" {
		return catalog.NewRegistry(), nil
	}
	res, errs := catalog.Load(dir, catalog.FailFast)
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to load catalog %s: %w", dir, errs[0])
	}
	reg, err := catalog.FromSpecs(res.Specs)
	if err != nil {
		return nil, fmt.Errorf("failed to register catalog %s: %w", dir, err)
	}
	return reg, nil
}
