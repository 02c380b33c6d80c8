package harness

import (
	"errors"
	"fmt"

	"github.com/roach88/causeway/internal/catalog"
	"github.com/roach88/causeway/internal/cause"
	"github.com/roach88/causeway/internal/engine"
	"github.com/roach88/causeway/internal/ir"
	"github.com/roach88/causeway/internal/phase"
	"github.com/roach88/causeway/internal/transaction"
	"github.com/roach88/causeway/internal/world"
)

// plan is a step resolved against a registry: its phase, its context
// options and its actions, ready to run on the simulation goroutine.
type plan struct {
	name    string
	def     *phase.Definition // nil runs untracked
	opts    []phase.Option
	actions []func(w *world.World) error
}

// BuildTask resolves step against reg and returns the engine task that
// runs it. It only reads the registry, so steps can be built concurrently
// (engine.Intake prepares them on worker goroutines).
func BuildTask(reg *catalog.Registry, step Step) (engine.Task, error) {
	p, err := compileStep(reg, step)
	if err != nil {
		return engine.Task{}, err
	}
	return engine.Task{
		Name:    p.name,
		Phase:   p.def,
		Options: p.opts,
		Work: func(_ *phase.Context, w *world.World) error {
			return p.apply(w)
		},
	}, nil
}

// setupTask runs actions untracked.
func setupTask(reg *catalog.Registry, actions []Action) (engine.Task, error) {
	return BuildTask(reg, Step{Name: "setup", Actions: actions})
}

func compileStep(reg *catalog.Registry, step Step) (*plan, error) {
	p := &plan{name: step.Name}

	switch {
	case step.Phase != "":
		def, ok := reg.Lookup(step.Phase)
		if !ok {
			return nil, fmt.Errorf("unknown phase %q", step.Phase)
		}
		if def.Kind() == ir.KindIdle {
			return nil, fmt.Errorf("the idle phase cannot be run; omit phase to run untracked")
		}
		p.def = def
	case len(step.Click) > 0:
		mask, err := phase.ParseButtons(step.Click)
		if err != nil {
			return nil, err
		}
		def, ok := reg.SelectClick(mask)
		if !ok {
			return nil, fmt.Errorf("no click state matches %s", mask)
		}
		p.def = def
	}

	if p.name == "" {
		p.name = phase.Idle.Name()
		if p.def != nil {
			p.name = p.def.Name()
		}
	}

	opts, err := contextOptions(step.Context)
	if err != nil {
		return nil, err
	}
	p.opts = opts

	for i, a := range step.Actions {
		fn, err := compileAction(reg, a)
		if err != nil {
			return nil, fmt.Errorf("actions[%d]: %w", i, err)
		}
		p.actions = append(p.actions, fn)
	}
	return p, nil
}

func (p *plan) apply(w *world.World) error {
	for _, fn := range p.actions {
		if err := fn(w); err != nil {
			return err
		}
	}
	return nil
}

func compileAction(reg *catalog.Registry, a Action) (func(w *world.World) error, error) {
	switch {
	case a.SetBlock != nil:
		pos, err := ir.ParsePosition(a.SetBlock.Pos)
		if err != nil {
			return nil, err
		}
		state, err := blockState(a.SetBlock)
		if err != nil {
			return nil, err
		}
		return func(w *world.World) error {
			w.SetBlock(pos, state)
			return nil
		}, nil

	case a.BreakBlock != nil:
		pos, err := ir.ParsePosition(a.BreakBlock.Pos)
		if err != nil {
			return nil, err
		}
		drops := items(a.BreakBlock.Drops)
		return func(w *world.World) error {
			w.BreakBlock(pos, drops...)
			return nil
		}, nil

	case a.Spawn != nil:
		ent, err := entity(a.Spawn)
		if err != nil {
			return nil, err
		}
		spawnType := ir.SpawnType(a.Spawn.SpawnType)
		return func(w *world.World) error {
			if spawnType != "" {
				frame := w.Tracker().Stack().PushFrame()
				defer frame.Close()
				cause.SetIn(frame, transaction.SpawnTypeKey, spawnType)
			}
			return w.SpawnEntity(ent)
		}, nil

	case a.Remove != "":
		id := a.Remove
		return func(w *world.World) error {
			if !w.RemoveEntity(id) {
				return fmt.Errorf("remove %s: no such entity", id)
			}
			return nil
		}, nil

	case a.SetSlot != nil:
		inv, index := a.SetSlot.Inventory, slotIndex(a.SetSlot)
		item := ir.Items(a.SetSlot.Item.Type, a.SetSlot.Item.Count)
		return func(w *world.World) error {
			w.SetSlot(inv, index, item)
			return nil
		}, nil

	case a.Protect != "":
		key := a.Protect
		return func(w *world.World) error {
			w.Protect(key, true)
			return nil
		}, nil

	case a.Nested != nil:
		child, err := compileStep(reg, *a.Nested)
		if err != nil {
			return nil, fmt.Errorf("nested: %w", err)
		}
		if child.def == nil {
			return nil, fmt.Errorf("nested: a phase or click flags are required")
		}
		return func(w *world.World) error {
			_, err := w.Tracker().Run(child.def, func(*phase.Context) error {
				return child.apply(w)
			}, child.opts...)
			return err
		}, nil

	case a.Fail != "":
		msg := a.Fail
		return func(*world.World) error {
			return errors.New(msg)
		}, nil

	default:
		return nil, fmt.Errorf("empty action")
	}
}
