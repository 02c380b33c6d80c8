package cause

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causeway/internal/fault"
)

var (
	playerKey = NewKey[string]("player")
	toolKey   = NewKey[string]("tool")
	countKey  = NewKey[int]("count")
)

func TestFramesRestoreCauseLIFO(t *testing.T) {
	s := NewStack()
	s.PushCause("world")
	before := s.CurrentCause().All()

	const n = 5
	frames := make([]*Frame, n)
	for i := range frames {
		frames[i] = s.PushFrame()
		frames[i].PushCause(i)
		s.PushCause("extra")
	}
	assert.Equal(t, 1+2*n, s.CurrentCause().Len())
	assert.Equal(t, n, s.Depth())

	for i := n - 1; i >= 0; i-- {
		frames[i].Close()
		assert.Equal(t, 1+2*i, s.CurrentCause().Len())
	}

	assert.Equal(t, before, s.CurrentCause().All())
	assert.Equal(t, 0, s.Depth())
}

func TestFrameCloseOutOfOrderPanics(t *testing.T) {
	s := NewStack()
	outer := s.PushFrame()
	inner := s.PushFrame()

	defer func() {
		r := recover()
		require.NotNil(t, r, "out-of-order close must panic")
		assert.True(t, fault.IsCode(r, fault.CodeFrameOrder))
		// Nothing was popped.
		assert.Equal(t, 2, s.Depth())
		assert.False(t, inner.Closed())
	}()
	outer.Close()
}

func TestFrameDoubleClosePanics(t *testing.T) {
	s := NewStack()
	f := s.PushFrame()
	f.Close()

	defer func() {
		assert.True(t, fault.IsCode(recover(), fault.CodeFrameClosed))
	}()
	f.Close()
}

func TestPushCauseThroughStaleFramePanics(t *testing.T) {
	s := NewStack()
	outer := s.PushFrame()
	s.PushFrame()

	defer func() {
		assert.True(t, fault.IsCode(recover(), fault.CodeFrameOrder))
	}()
	outer.PushCause("late")
}

func TestFrameRestoresContext(t *testing.T) {
	s := NewStack()
	Set(s, playerKey, "alex")

	f := s.PushFrame()
	Set(s, playerKey, "sam")
	Set(s, playerKey, "kai")
	Set(s, toolKey, "pickaxe")
	Unset(s, playerKey)

	_, ok := Get(s, playerKey)
	assert.False(t, ok)
	tool, ok := Get(s, toolKey)
	assert.True(t, ok)
	assert.Equal(t, "pickaxe", tool)

	f.Close()

	player, ok := Get(s, playerKey)
	assert.True(t, ok)
	assert.Equal(t, "alex", player)
	assert.False(t, s.Has("tool"))
}

func TestRequire(t *testing.T) {
	s := NewStack()
	Set(s, countKey, 3)

	v, err := Require(s, countKey)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	_, err = Require(s, playerKey)
	require.Error(t, err)
	assert.True(t, fault.IsMissingContext(err))
	assert.Contains(t, err.Error(), "player")

	assert.Panics(t, func() { MustRequire(s, playerKey) })
}

func TestRequireWrongTypeIsMissing(t *testing.T) {
	s := NewStack()
	Set(s, NewKey[string]("count"), "three")

	_, err := Require(s, countKey)
	assert.True(t, fault.IsMissingContext(err))
}

func TestPopCauseStopsAtFrame(t *testing.T) {
	s := NewStack()
	s.PushCause("world")
	f := s.PushFrame()
	s.PushCause("plugin")

	c, ok := s.PopCause()
	assert.True(t, ok)
	assert.Equal(t, "plugin", c)

	_, ok = s.PopCause()
	assert.False(t, ok, "cannot pop a cause owned by an enclosing frame")

	f.Close()
	c, ok = s.PopCause()
	assert.True(t, ok)
	assert.Equal(t, "world", c)
}

func TestCurrentContextIsCopy(t *testing.T) {
	s := NewStack()
	Set(s, playerKey, "alex")
	ctx := s.CurrentContext()
	Set(s, playerKey, "sam")

	v, ok := Value(ctx, playerKey)
	assert.True(t, ok)
	assert.Equal(t, "alex", v)
	assert.Equal(t, []string{"player"}, ctx.Keys())
}
