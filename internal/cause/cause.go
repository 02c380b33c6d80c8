// Package cause tracks why a world mutation happened.
//
// A Stack holds an ordered list of causal objects (outermost first) and a
// key/value context map. Frames scope both: closing a frame removes every
// cause pushed since it opened and restores every context key it changed.
// Frames must close in LIFO order; anything else panics with a
// *fault.Error because corrupted attribution is worse than a crash.
//
// A Stack is owned by the simulation goroutine and is not safe for
// concurrent use.
package cause

import (
	"fmt"
	"reflect"
	"strings"
)

// Cause is an immutable, outermost-first list of causal objects.
type Cause struct {
	entries []any
}

// Of builds a Cause from entries, outermost first.
func Of(entries ...any) Cause {
	return Cause{entries: append([]any(nil), entries...)}
}

// Root returns the outermost cause, or nil if empty.
func (c Cause) Root() any {
	if len(c.entries) == 0 {
		return nil
	}
	return c.entries[0]
}

// First returns the outermost cause.
func (c Cause) First() (any, bool) {
	if len(c.entries) == 0 {
		return nil, false
	}
	return c.entries[0], true
}

// Last returns the innermost (most recently pushed) cause.
func (c Cause) Last() (any, bool) {
	if len(c.entries) == 0 {
		return nil, false
	}
	return c.entries[len(c.entries)-1], true
}

// All returns a copy of the entries, outermost first.
func (c Cause) All() []any {
	return append([]any(nil), c.entries...)
}

// Len returns the number of entries.
func (c Cause) Len() int {
	return len(c.entries)
}

// IsEmpty reports whether the cause has no entries.
func (c Cause) IsEmpty() bool {
	return len(c.entries) == 0
}

// Contains reports whether an entry deeply equals v.
func (c Cause) Contains(v any) bool {
	for _, e := range c.entries {
		if sameCause(e, v) {
			return true
		}
	}
	return false
}

// Strings renders each entry with fmt, outermost first.
func (c Cause) Strings() []string {
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = fmt.Sprint(e)
	}
	return out
}

func (c Cause) String() string {
	return "[" + strings.Join(c.Strings(), " > ") + "]"
}

// FirstOf returns the outermost entry of type T.
func FirstOf[T any](c Cause) (T, bool) {
	for _, e := range c.entries {
		if v, ok := e.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// NearestOf returns the innermost entry of type T.
func NearestOf[T any](c Cause) (T, bool) {
	for i := len(c.entries) - 1; i >= 0; i-- {
		if v, ok := c.entries[i].(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func sameCause(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.TypeOf(a) == reflect.TypeOf(b) && reflect.DeepEqual(a, b)
}
