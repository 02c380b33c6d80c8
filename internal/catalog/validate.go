package catalog

import (
	"fmt"
	"regexp"

	"github.com/roach88/causeway/internal/ir"
	"github.com/roach88/causeway/internal/phase"
)

// Validation error codes (E100-E199)
const (
	ErrUnsupportedSpec = "E100" // unsupported value passed to Validate
	ErrPhaseName       = "E101" // name must be snake_case
	ErrPhaseKind       = "E102" // unknown or idle kind
	ErrCancelPolicy    = "E103" // unknown cancel policy
	ErrButtons         = "E104" // unknown click flag or flags on a non-packet phase
	ErrDuplicateName   = "E105" // duplicate phase name
	ErrVariant         = "E106" // click variant without a packet button mask
	ErrRequires        = "E107" // empty or repeated context key
	ErrReservedName    = "E108" // name of a built-in phase
)

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidationError represents a catalog validation error.
type ValidationError struct {
	Phase   string `json:"phase"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] phase %s: %s: %s", e.Code, e.Phase, e.Field, e.Message)
}

// Validate validates compiled phase specs.
// Returns all errors found (does not fail-fast). Accepts a single
// ir.PhaseSpec or a []ir.PhaseSpec; a slice is also checked for duplicate
// names and collisions with built-in phases.
func Validate(v any) []ValidationError {
	switch specs := v.(type) {
	case ir.PhaseSpec:
		return validateSpec(specs)
	case *ir.PhaseSpec:
		return validateSpec(*specs)
	case []ir.PhaseSpec:
		return validateCatalog(specs)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type: %T", v),
			Code:    ErrUnsupportedSpec,
		}}
	}
}

func validateCatalog(specs []ir.PhaseSpec) []ValidationError {
	var errs []ValidationError

	builtin := make(map[string]bool)
	for _, d := range phase.Builtins() {
		builtin[d.Name()] = true
	}

	seen := make(map[string]bool)
	for _, s := range specs {
		errs = append(errs, validateSpec(s)...)

		if builtin[s.Name] {
			errs = append(errs, ValidationError{
				Phase:   s.Name,
				Field:   "name",
				Message: "name is taken by a built-in phase",
				Code:    ErrReservedName,
			})
		}
		if seen[s.Name] {
			errs = append(errs, ValidationError{
				Phase:   s.Name,
				Field:   "name",
				Message: fmt.Sprintf("duplicate phase name: %q", s.Name),
				Code:    ErrDuplicateName,
			})
		}
		seen[s.Name] = true
	}
	return errs
}

func validateSpec(s ir.PhaseSpec) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{
			Phase:   s.Name,
			Field:   field,
			Message: fmt.Sprintf(format, args...),
			Code:    code,
		})
	}

	if !namePattern.MatchString(s.Name) {
		add("name", ErrPhaseName, "name %q must be snake_case", s.Name)
	}

	switch {
	case s.Kind == ir.KindIdle:
		add("kind", ErrPhaseKind, "the idle phase cannot be defined")
	case !ir.ValidPhaseKinds[s.Kind]:
		add("kind", ErrPhaseKind, "unknown kind %q", s.Kind)
	}

	if s.CancelPolicy != "" && !ir.ValidCancelPolicies[s.CancelPolicy] {
		add("cancel_policy", ErrCancelPolicy, "unknown cancel policy %q, must be \"chain\" or \"batch\"", s.CancelPolicy)
	}

	keys := make(map[string]bool)
	for i, k := range s.Requires {
		switch {
		case k == "":
			add(fmt.Sprintf("requires[%d]", i), ErrRequires, "context key must be non-empty")
		case keys[k]:
			add(fmt.Sprintf("requires[%d]", i), ErrRequires, "context key %q listed twice", k)
		}
		keys[k] = true
	}

	if len(s.Buttons) > 0 {
		if s.Kind != ir.KindPacket {
			add("buttons", ErrButtons, "click flags are only allowed on packet phases")
		}
		if _, err := phase.ParseButtons(s.Buttons); err != nil {
			add("buttons", ErrButtons, "%v", err)
		}
	}

	if s.Variant != "" {
		if s.Kind != ir.KindPacket || len(s.Buttons) == 0 {
			add("variant", ErrVariant, "a click variant needs a packet phase with buttons")
		}
	}

	return errs
}
