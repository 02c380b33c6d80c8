package catalog

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/causeway/internal/ir"
)

//go:embed schema.cue
var schemaCUE string

// Compile parses one catalog phase into a PhaseSpec.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the phase struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`phase: redstone_tick: { kind: "tick" }`)
//	spec, err := Compile(v.LookupPath(cue.ParsePath("phase.redstone_tick")))
//
// The value is unified with the #Phase schema first, so unknown fields,
// bad kinds and non-string lists are reported with their CUE position.
func Compile(v cue.Value) (*ir.PhaseSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	schema := v.Context().CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("phase schema: %w", err)
	}
	unified := schema.LookupPath(cue.ParsePath("#Phase")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.PhaseSpec{CancelPolicy: ir.RollbackChain}

	// Phase name is the struct label.
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = labels[len(labels)-1].String()
	}

	kind, err := unified.LookupPath(cue.ParsePath("kind")).String()
	if err != nil {
		return nil, &CompileError{Field: "kind", Message: "kind is required", Pos: v.Pos()}
	}
	spec.Kind = ir.PhaseKind(kind)

	if spec.Requires, err = stringList(unified, "requires"); err != nil {
		return nil, err
	}
	if spec.Buttons, err = stringList(unified, "buttons"); err != nil {
		return nil, err
	}

	if policy, ok, err := optionalString(unified, "cancel_policy"); err != nil {
		return nil, err
	} else if ok {
		spec.CancelPolicy = ir.CancelPolicy(policy)
	}
	if spec.Variant, _, err = optionalString(unified, "variant"); err != nil {
		return nil, err
	}
	if spec.Description, _, err = optionalString(unified, "description"); err != nil {
		return nil, err
	}

	return spec, nil
}

// CompileString compiles every phase under the top-level "phase" struct
// of src. Stops at the first error.
func CompileString(src string) ([]ir.PhaseSpec, error) {
	v := cuecontext.New().CompileString(src)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	specs, errs := compilePhases(v, true)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return specs, nil
}

// compilePhases compiles the fields of v's "phase" struct in source order.
func compilePhases(v cue.Value, failFast bool) ([]ir.PhaseSpec, []error) {
	phasesVal := v.LookupPath(cue.ParsePath("phase"))
	if !phasesVal.Exists() {
		return nil, nil
	}

	iter, err := phasesVal.Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}

	var specs []ir.PhaseSpec
	var errs []error
	for iter.Next() {
		spec, err := Compile(iter.Value())
		if err != nil {
			errs = append(errs, fmt.Errorf("phase.%s: %w", iter.Label(), err))
			if failFast {
				return specs, errs
			}
			continue
		}
		specs = append(specs, *spec)
	}
	return specs, errs
}

func stringList(v cue.Value, field string) ([]string, error) {
	val := v.LookupPath(cue.ParsePath(field))
	if !val.Exists() {
		return nil, nil
	}
	iter, err := val.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{Field: field, Message: "entries must be strings", Pos: iter.Value().Pos()}
		}
		out = append(out, s)
	}
	return out, nil
}

func optionalString(v cue.Value, field string) (string, bool, error) {
	val := v.LookupPath(cue.ParsePath(field))
	if !val.Exists() {
		return "", false, nil
	}
	s, err := val.String()
	if err != nil {
		return "", false, formatCUEError(err)
	}
	return s, true, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
