// Package fault defines the typed errors raised by the tracking engine.
//
// Faults fall in two groups. Invariant violations (frames or phases closed
// out of order, a transaction restored twice) mean the engine's bookkeeping
// is corrupt; they are raised with panic(*Error) and are never recovered
// into a normal return. Missing required context is a programming error in
// the caller and is returned as *Error from Require-style lookups, or
// panicked by their Must variants.
package fault

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Code categorizes engine faults.
type Code string

const (
	// CodeFrameOrder indicates a cause frame was closed while not on top.
	CodeFrameOrder Code = "FRAME_ORDER"

	// CodeFrameClosed indicates a cause frame was closed twice.
	CodeFrameClosed Code = "FRAME_CLOSED"

	// CodePhaseOrder indicates a phase was ended while not on top of the tracker.
	CodePhaseOrder Code = "PHASE_ORDER"

	// CodePhaseClosed indicates a phase was used after it completed.
	CodePhaseClosed Code = "PHASE_CLOSED"

	// CodeDoubleRestore indicates a transaction was restored twice.
	CodeDoubleRestore Code = "DOUBLE_RESTORE"

	// CodeMissingContext indicates a required context key was absent.
	CodeMissingContext Code = "MISSING_CONTEXT"

	// CodeStackOverflow indicates the phase stack exceeded its depth limit.
	CodeStackOverflow Code = "STACK_OVERFLOW"

	// CodeIdleCapture indicates the root idle phase was ended or popped.
	CodeIdleCapture Code = "IDLE_CAPTURE"
)

// Error is an engine fault with structured diagnostics.
type Error struct {
	// Code identifies the fault category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Phase names the phase active when the fault was raised, if any.
	Phase string

	// Details contains additional context.
	Details map[string]string

	// Dump is an optional multi-line diagnostic (tracker or chain state).
	Dump string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.Phase != "" {
		fmt.Fprintf(&b, " (phase=%s)", e.Phase)
	}
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%s", k, e.Details[k])
		}
	}
	return b.String()
}

// New creates a fault with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// With returns e with one detail added.
func (e *Error) With(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// InPhase returns e annotated with the active phase name.
func (e *Error) InPhase(name string) *Error {
	e.Phase = name
	return e
}

// WithDump attaches a diagnostic dump.
func (e *Error) WithDump(dump string) *Error {
	e.Dump = dump
	return e
}

// Panic raises an invariant violation.
func Panic(code Code, format string, args ...any) {
	panic(New(code, format, args...))
}

// MissingContext creates the fault returned when a required key is absent.
func MissingContext(key string) *Error {
	return New(CodeMissingContext, "missing required context %q", key).With("key", key)
}

// As extracts an *Error from err or from a recovered panic value.
func As(v any) (*Error, bool) {
	switch val := v.(type) {
	case *Error:
		return val, val != nil
	case error:
		var fe *Error
		if errors.As(val, &fe) {
			return fe, true
		}
	}
	return nil, false
}

// IsCode reports whether v (an error or a recovered panic value) is a fault
// with the given code. Uses errors.As to handle wrapped errors.
func IsCode(v any, code Code) bool {
	fe, ok := As(v)
	return ok && fe.Code == code
}

// IsMissingContext reports whether err is a missing-context fault.
func IsMissingContext(err error) bool {
	return IsCode(err, CodeMissingContext)
}
