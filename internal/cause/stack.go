package cause

import (
	"log/slog"
	"strconv"

	"github.com/roach88/causeway/internal/fault"
)

// Stack is the cause stack of one world.
type Stack struct {
	causes []any
	values map[string]any
	frames []*Frame
}

// NewStack creates an empty cause stack.
func NewStack() *Stack {
	return &Stack{values: make(map[string]any)}
}

// Frame is the handle for one pushed frame. Close it exactly once, in LIFO
// order, normally with defer.
type Frame struct {
	stack *Stack
	index int // position in stack.frames
	mark  int // len(stack.causes) when the frame opened
	saved []savedValue
	seen  map[string]bool
	done  bool
}

type savedValue struct {
	key     string
	value   any
	present bool
}

// PushCause appends a causal object. It belongs to the innermost open frame
// and is removed when that frame closes.
func (s *Stack) PushCause(c any) {
	s.causes = append(s.causes, c)
}

// PopCause removes the most recently pushed cause. It never removes causes
// owned by an enclosing frame; ok is false when the innermost frame has no
// causes of its own.
func (s *Stack) PopCause() (c any, ok bool) {
	if len(s.causes) <= s.floor() {
		return nil, false
	}
	c = s.causes[len(s.causes)-1]
	s.causes = s.causes[:len(s.causes)-1]
	return c, true
}

// PeekCause returns the most recently pushed cause without removing it.
func (s *Stack) PeekCause() (any, bool) {
	if len(s.causes) == 0 {
		return nil, false
	}
	return s.causes[len(s.causes)-1], true
}

func (s *Stack) floor() int {
	if len(s.frames) == 0 {
		return 0
	}
	return s.frames[len(s.frames)-1].mark
}

// PushFrame opens a new frame.
func (s *Stack) PushFrame() *Frame {
	f := &Frame{
		stack: s,
		index: len(s.frames),
		mark:  len(s.causes),
	}
	s.frames = append(s.frames, f)
	return f
}

// Depth returns the number of open frames.
func (s *Stack) Depth() int {
	return len(s.frames)
}

// CurrentCause returns every cause in every open frame, outermost first.
func (s *Stack) CurrentCause() Cause {
	return Of(s.causes...)
}

// CurrentContext returns a copy of the context map.
func (s *Stack) CurrentContext() Context {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return Context{values: out}
}

// Has reports whether the context holds a value under name.
func (s *Stack) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

// set records the previous value in the innermost frame the first time
// that frame touches key.
func (s *Stack) set(key string, value any, present bool) {
	if n := len(s.frames); n > 0 {
		s.frames[n-1].remember(key, s.values)
	}
	if present {
		s.values[key] = value
	} else {
		delete(s.values, key)
	}
}

func (f *Frame) remember(key string, values map[string]any) {
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	if f.seen[key] {
		return
	}
	f.seen[key] = true
	prev, ok := values[key]
	f.saved = append(f.saved, savedValue{key: key, value: prev, present: ok})
}

// PushCause appends a cause through this frame. The frame must be the
// innermost open frame.
func (f *Frame) PushCause(c any) {
	f.checkTop("push cause")
	f.stack.PushCause(c)
}

// Closed reports whether Close has run.
func (f *Frame) Closed() bool {
	return f.done
}

// Close pops the frame: causes pushed since it opened are dropped and
// context keys it changed are restored. Closing a frame that is not the
// innermost, or closing it twice, panics with a *fault.Error.
func (f *Frame) Close() {
	f.checkTop("close")

	s := f.stack
	s.causes = s.causes[:f.mark]
	for i := len(f.saved) - 1; i >= 0; i-- {
		sv := f.saved[i]
		if sv.present {
			s.values[sv.key] = sv.value
		} else {
			delete(s.values, sv.key)
		}
	}
	s.frames = s.frames[:f.index]
	f.done = true
}

func (f *Frame) checkTop(op string) {
	if f.done {
		panic(fault.New(fault.CodeFrameClosed, "%s on closed cause frame", op).
			With("frame", strconv.Itoa(f.index)))
	}
	s := f.stack
	top := len(s.frames) - 1
	if top < 0 || s.frames[top] != f {
		slog.Error("cause frame closed out of order",
			"frame", f.index,
			"open_frames", len(s.frames),
			"cause", s.CurrentCause().String(),
		)
		panic(fault.New(fault.CodeFrameOrder, "%s on cause frame %d while frame %d is innermost", op, f.index, top).
			With("frame", strconv.Itoa(f.index)).
			With("top", strconv.Itoa(top)))
	}
}
