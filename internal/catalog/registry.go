package catalog

import (
	"fmt"

	"github.com/roach88/causeway/internal/ir"
	"github.com/roach88/causeway/internal/phase"
)

// Registry maps phase names to definitions: the built-in phases first,
// then catalog phases in the order they were added.
//
// A Registry is filled before the world starts and only read afterwards.
type Registry struct {
	byName map[string]*phase.Definition
	order  []*phase.Definition
}

// NewRegistry returns a registry holding the built-in phases.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]*phase.Definition)}
	for _, d := range phase.Builtins() {
		r.byName[d.Name()] = d
		r.order = append(r.order, d)
	}
	return r
}

// FromSpecs returns a registry of the built-in phases plus specs.
func FromSpecs(specs []ir.PhaseSpec) (*Registry, error) {
	r := NewRegistry()
	for _, s := range specs {
		d, err := phase.FromSpec(s)
		if err != nil {
			return nil, err
		}
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds d. Names are unique.
func (r *Registry) Register(d *phase.Definition) error {
	if _, ok := r.byName[d.Name()]; ok {
		return fmt.Errorf("phase %q already registered", d.Name())
	}
	r.byName[d.Name()] = d
	r.order = append(r.order, d)
	return nil
}

// Lookup returns the definition named name.
func (r *Registry) Lookup(name string) (*phase.Definition, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// All returns every definition in registration order.
func (r *Registry) All() []*phase.Definition {
	return append([]*phase.Definition(nil), r.order...)
}

// ClickStates returns the packet phases with a click mask, in
// registration order.
func (r *Registry) ClickStates() []*phase.Definition {
	var out []*phase.Definition
	for _, d := range r.order {
		if d.Kind() == ir.KindPacket && d.Buttons() != 0 {
			out = append(out, d)
		}
	}
	return out
}

// SelectClick returns the first click state matching the packet's flags.
func (r *Registry) SelectClick(packet phase.ButtonMask) (*phase.Definition, bool) {
	return phase.SelectClickState(packet, r.ClickStates()...)
}

// Specs returns the PhaseSpec of every definition in registration order.
func (r *Registry) Specs() []ir.PhaseSpec {
	out := make([]ir.PhaseSpec, len(r.order))
	for i, d := range r.order {
		out[i] = d.Spec()
	}
	return out
}

// Hash identifies the registry's contents.
func (r *Registry) Hash() (string, error) {
	return ir.CatalogHash(r.Specs())
}
