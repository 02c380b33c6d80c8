// Package phase tracks units of simulation work and the mutations they make.
//
// A Definition describes a kind of work (a block tick, a plugin call, an
// inventory click packet). Beginning a definition on the Tracker creates a
// Context that owns one transaction chain and one cause frame. Every
// mutation captured while the context is innermost is appended to its
// chain. Ending the context commits the chain into events; a cancelled
// event rolls the chain back.
//
// The Tracker is owned by the simulation goroutine of one world. Other
// goroutines hand work to that goroutine (see the engine package) instead
// of calling the tracker themselves.
package phase

import (
	"fmt"

	"github.com/roach88/causeway/internal/cause"
	"github.com/roach88/causeway/internal/event"
	"github.com/roach88/causeway/internal/ir"
	"github.com/roach88/causeway/internal/transaction"
)

// Converter turns a committed batch into an event, or nil for none.
type Converter func(c *Context, b transaction.Batch, cs cause.Cause, ctx cause.Context) event.Event

// Definition is a kind of phase. Definitions are immutable and shared;
// every Begin creates a fresh Context.
type Definition struct {
	spec    ir.PhaseSpec
	mask    ButtonMask
	convert Converter
}

// DefinitionOption customizes NewDefinition.
type DefinitionOption func(*Definition)

// WithConverter overrides the default batch-to-event conversion.
func WithConverter(fn Converter) DefinitionOption {
	return func(d *Definition) { d.convert = fn }
}

// WithButtons sets the click mask of an inventory click definition.
func WithButtons(mask ButtonMask) DefinitionOption {
	return func(d *Definition) { d.mask = mask }
}

// NewDefinition creates a definition from its spec. An empty cancel policy
// means RollbackChain.
func NewDefinition(spec ir.PhaseSpec, opts ...DefinitionOption) *Definition {
	if spec.CancelPolicy == "" {
		spec.CancelPolicy = ir.RollbackChain
	}
	d := &Definition{spec: spec, convert: DefaultConvert}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FromSpec builds a definition from a compiled catalog spec. Packet specs
// with a click variant become inventory click states.
func FromSpec(spec ir.PhaseSpec) (*Definition, error) {
	if !ir.ValidPhaseKinds[spec.Kind] {
		return nil, fmt.Errorf("phase %q: unknown kind %q", spec.Name, spec.Kind)
	}
	if spec.CancelPolicy != "" && !ir.ValidCancelPolicies[spec.CancelPolicy] {
		return nil, fmt.Errorf("phase %q: unknown cancel policy %q", spec.Name, spec.CancelPolicy)
	}
	if spec.Kind == ir.KindIdle {
		return nil, fmt.Errorf("phase %q: idle phases cannot be defined", spec.Name)
	}

	var opts []DefinitionOption
	if len(spec.Buttons) > 0 {
		mask, err := ParseButtons(spec.Buttons)
		if err != nil {
			return nil, fmt.Errorf("phase %q: %w", spec.Name, err)
		}
		opts = append(opts, WithButtons(mask))
	}
	if spec.Variant != "" {
		if spec.Kind != ir.KindPacket {
			return nil, fmt.Errorf("phase %q: click variant on %s phase", spec.Name, spec.Kind)
		}
		opts = append(opts, WithConverter(ClickConvert))
	}
	return NewDefinition(spec, opts...), nil
}

// Name returns the phase name.
func (d *Definition) Name() string { return d.spec.Name }

// Kind returns the phase kind.
func (d *Definition) Kind() ir.PhaseKind { return d.spec.Kind }

// Spec returns a copy of the definition's spec.
func (d *Definition) Spec() ir.PhaseSpec { return d.spec }

// Buttons returns the click mask, zero for non-click phases.
func (d *Definition) Buttons() ButtonMask { return d.mask }

// CancelPolicy returns how much of the chain a cancelled event restores.
func (d *Definition) CancelPolicy() ir.CancelPolicy { return d.spec.CancelPolicy }

// Requires returns the context keys that must be present at begin.
func (d *Definition) Requires() []string { return append([]string(nil), d.spec.Requires...) }

func (d *Definition) String() string { return d.spec.Name }

// Source is the cause every phase pushes when it begins.
type Source struct {
	Phase string
	Kind  ir.PhaseKind
}

func (s Source) String() string { return "phase:" + s.Phase }

// Built-in phases.
var (
	// Idle is the permanent root phase. Mutations made while it is innermost
	// are applied untracked.
	Idle = NewDefinition(ir.PhaseSpec{Name: "idle", Kind: ir.KindIdle, Description: "no tracked work in progress"})

	// BlockTick wraps a scheduled block update.
	BlockTick = NewDefinition(ir.PhaseSpec{Name: "block_tick", Kind: ir.KindTick, Description: "scheduled block update"})

	// EntityTick wraps one entity's update.
	EntityTick = NewDefinition(ir.PhaseSpec{Name: "entity_tick", Kind: ir.KindTick, Description: "entity update"})

	// PluginCall wraps plugin code run outside any other phase.
	PluginCall = NewDefinition(ir.PhaseSpec{
		Name:        "plugin_call",
		Kind:        ir.KindPlugin,
		Requires:    []string{transaction.PluginKey.Name()},
		Description: "plugin invoked world mutation",
	})

	// Packet wraps a generic player packet.
	Packet = NewDefinition(ir.PhaseSpec{
		Name:        "packet",
		Kind:        ir.KindPacket,
		Requires:    []string{transaction.PlayerKey.Name()},
		Description: "player packet",
	})

	// WorldGen wraps terrain population. A cancelled event only restores
	// its own batch.
	WorldGen = NewDefinition(ir.PhaseSpec{
		Name:         "world_gen",
		Kind:         ir.KindWorldGen,
		CancelPolicy: ir.RollbackBatch,
		Description:  "terrain population",
	})
)

// Builtins returns the built-in definitions, idle first.
func Builtins() []*Definition {
	out := []*Definition{Idle, BlockTick, EntityTick, PluginCall, Packet, WorldGen}
	return append(out, ClickStates()...)
}
