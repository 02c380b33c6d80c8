package phase

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/causeway/internal/cause"
	"github.com/roach88/causeway/internal/event"
	"github.com/roach88/causeway/internal/fault"
	"github.com/roach88/causeway/internal/ir"
	"github.com/roach88/causeway/internal/transaction"
)

// blocks is a minimal block world: writes go through the tracker the way
// the world package routes them.
type blocks struct {
	tracker  *Tracker
	state    map[string]ir.Snapshot
	restores []string
}

func newBlocks(t *testing.T, opts ...TrackerOption) (*blocks, *event.Bus) {
	t.Helper()
	bus := event.NewBus()
	b := &blocks{state: make(map[string]ir.Snapshot)}
	b.tracker = NewTracker(b, bus, opts...)
	return b, bus
}

func (b *blocks) ForceRestore(s ir.Snapshot) error {
	b.restores = append(b.restores, s.Key())
	b.state[s.Key()] = s
	return nil
}

func (b *blocks) set(pos ir.Position, state ir.BlockState) {
	key := ir.BlockSnapshot{Pos: pos}.Key()
	original := ir.BlockSnapshot{Pos: pos, State: ir.Air()}
	if prev, ok := b.state[key]; ok {
		original = prev.(ir.BlockSnapshot)
	}
	b.state[key] = ir.BlockSnapshot{Pos: pos, State: state}
	b.tracker.Capture(transaction.BlockChange(original, state))
}

func (b *blocks) block(pos ir.Position) string {
	if s, ok := b.state[ir.BlockSnapshot{Pos: pos}.Key()]; ok {
		return s.(ir.BlockSnapshot).State.Type
	}
	return ir.BlockAir
}

// requireFault asserts fn panics with a fault of the given code.
func requireFault(t *testing.T, code fault.Code, fn func()) *fault.Error {
	t.Helper()
	var got any
	func() {
		defer func() { got = recover() }()
		fn()
	}()
	require.NotNil(t, got, "expected a %s panic", code)
	f, ok := fault.As(got)
	require.True(t, ok, "panic value %v is not a fault", got)
	require.Equal(t, code, f.Code, "unexpected fault: %v", f)
	return f
}

// cancelFrom cancels change_block events whose nearest phase source is name.
func cancelFrom(bus *event.Bus, name string) {
	bus.Subscribe(event.TypeChangeBlock, event.Listener{
		Name: "cancel-" + name,
		Handle: func(e event.Event) {
			if src, ok := cause.NearestOf[Source](e.Cause()); ok && src.Phase == name {
				e.SetCancelled(true)
			}
		},
	})
}
