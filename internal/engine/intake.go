package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the default Intake concurrency.
const DefaultWorkers = 4

// Intake prepares inputs on up to workers goroutines, then submits the
// prepared tasks to e one at a time in input order and collects their
// results.
//
// prepare runs off the simulation goroutine and must not touch the world.
// If any prepare fails, nothing is submitted. If a submit fails (engine
// stopped, ctx cancelled), the results gathered so far are returned with
// the error.
func Intake[T any](ctx context.Context, e *Engine, workers int, inputs []T, prepare func(context.Context, T) (Task, error)) ([]Result, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	tasks := make([]Task, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			t, err := prepare(gctx, in)
			if err != nil {
				return fmt.Errorf("prepare input %d: %w", i, err)
			}
			tasks[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(tasks))
	for _, t := range tasks {
		res, err := e.Submit(ctx, t)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}
