package cause

import (
	"slices"

	"github.com/roach88/causeway/internal/fault"
)

// Key is a typed context key. Keys with the same name refer to the same
// slot; declare each key once as a package-level variable.
type Key[T any] struct {
	name string
}

// NewKey declares a context key.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// Name returns the key's name.
func (k Key[T]) Name() string {
	return k.name
}

func (k Key[T]) String() string {
	return k.name
}

// Set stores value under key. The innermost open frame restores the
// previous value when it closes.
func Set[T any](s *Stack, key Key[T], value T) {
	s.set(key.name, value, true)
}

// SetIn is Set through a frame handle. The frame must be the innermost
// open frame; the value is restored when it closes.
func SetIn[T any](f *Frame, key Key[T], value T) {
	f.checkTop("set " + key.name)
	f.stack.set(key.name, value, true)
}

// Unset removes key. The innermost open frame restores it when it closes.
func Unset[T any](s *Stack, key Key[T]) {
	s.set(key.name, nil, false)
}

// Get returns the value stored under key.
func Get[T any](s *Stack, key Key[T]) (T, bool) {
	return lookup[T](s.values, key.name)
}

// Require returns the value stored under key, or a missing-context fault.
// It never substitutes a default.
func Require[T any](s *Stack, key Key[T]) (T, error) {
	v, ok := Get(s, key)
	if !ok {
		return v, fault.MissingContext(key.name)
	}
	return v, nil
}

// MustRequire is like Require but panics with the fault.
func MustRequire[T any](s *Stack, key Key[T]) T {
	v, err := Require(s, key)
	if err != nil {
		panic(err)
	}
	return v
}

// Context is a read-only copy of a stack's context map.
type Context struct {
	values map[string]any
}

// Len returns the number of keys.
func (c Context) Len() int {
	return len(c.values)
}

// Has reports whether name is present.
func (c Context) Has(name string) bool {
	_, ok := c.values[name]
	return ok
}

// Keys returns the key names in sorted order.
func (c Context) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Raw returns the untyped value under name.
func (c Context) Raw(name string) (any, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Value returns the typed value under key from a context copy.
func Value[T any](c Context, key Key[T]) (T, bool) {
	return lookup[T](c.values, key.name)
}

func lookup[T any](values map[string]any, name string) (T, bool) {
	raw, ok := values[name]
	if !ok {
		var zero T
		return zero, false
	}
	v, ok := raw.(T)
	return v, ok
}
