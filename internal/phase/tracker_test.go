package phase

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causeway/internal/cause"
	"github.com/roach88/causeway/internal/event"
	"github.com/roach88/causeway/internal/fault"
	"github.com/roach88/causeway/internal/ir"
	"github.com/roach88/causeway/internal/transaction"
)

var (
	posA = ir.Pos(0, 64, 0)
	posB = ir.Pos(4, 64, 4)
)

func TestNewTrackerStartsIdle(t *testing.T) {
	w, _ := newBlocks(t)
	tr := w.tracker

	assert.Equal(t, 0, tr.Depth())
	assert.True(t, tr.Current().IsIdle())
	assert.Same(t, tr.Root(), tr.Current())
	assert.False(t, tr.Tracking())

	root, ok := cause.FirstOf[Source](tr.CurrentCause())
	require.True(t, ok)
	assert.Equal(t, "idle", root.Phase)
}

func TestIdleMutationsAreUntracked(t *testing.T) {
	w, _ := newBlocks(t)

	w.set(posA, ir.Block("stone"))

	assert.Equal(t, "stone", w.block(posA))
	assert.Equal(t, 0, w.tracker.Root().Chain().Len())
	release, tracked := w.tracker.Nest(transaction.PrepareDrops(ir.BlockSnapshot{Pos: posA}))
	assert.False(t, tracked)
	release()
}

func TestBeginIdleRefused(t *testing.T) {
	w, _ := newBlocks(t)

	_, err := w.tracker.Begin(Idle)

	require.Error(t, err)
	f, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, fault.CodeIdleCapture, f.Code)
	requireFault(t, fault.CodeIdleCapture, func() { w.tracker.End(w.tracker.Root()) })
}

func TestBeginRequiresConfiguredContext(t *testing.T) {
	w, _ := newBlocks(t)
	tr := w.tracker

	_, err := tr.Begin(PluginCall)

	require.Error(t, err)
	assert.True(t, fault.IsMissingContext(err))
	assert.Contains(t, err.Error(), "plugin")
	assert.Equal(t, 0, tr.Depth(), "a refused begin must not leave a context behind")
	assert.Equal(t, 1, tr.Stack().Depth(), "a refused begin must close its frame")

	c, err := tr.Begin(PluginCall, With(transaction.PluginKey, "worldedit"))
	require.NoError(t, err)
	plugin, err := Require(c, transaction.PluginKey)
	require.NoError(t, err)
	assert.Equal(t, "worldedit", plugin)
	tr.End(c)
}

func TestRequireNeverSubstitutesDefault(t *testing.T) {
	w, _ := newBlocks(t)
	c, err := w.tracker.Begin(BlockTick)
	require.NoError(t, err)
	defer w.tracker.End(c)

	_, err = Require(c, transaction.PlayerKey)

	require.Error(t, err)
	assert.True(t, fault.IsMissingContext(err))
	f, _ := fault.As(err)
	assert.Equal(t, "block_tick", f.Phase)

	_, ok := Get(c, transaction.PlayerKey)
	assert.False(t, ok)
}

func TestContextValuesScopedToPhase(t *testing.T) {
	w, _ := newBlocks(t)
	tr := w.tracker

	outer, err := tr.Begin(Packet, With(transaction.PlayerKey, "alex"))
	require.NoError(t, err)

	inner, err := tr.Begin(PluginCall, With(transaction.PluginKey, "shops"))
	require.NoError(t, err)
	player, err := Require(inner, transaction.PlayerKey)
	require.NoError(t, err, "nested phases inherit enclosing context")
	assert.Equal(t, "alex", player)
	assert.Same(t, outer, inner.Parent())
	assert.Equal(t, 2, inner.Depth())

	tr.End(inner)
	assert.False(t, tr.Stack().Has(transaction.PluginKey.Name()))
	assert.True(t, tr.Stack().Has(transaction.PlayerKey.Name()))

	tr.End(outer)
	assert.False(t, tr.Stack().Has(transaction.PlayerKey.Name()))
	assert.Equal(t, 1, tr.Stack().Depth())
}

func TestBeginPushesSourceAndExtraCauses(t *testing.T) {
	w, _ := newBlocks(t)
	c, err := w.tracker.Begin(BlockTick, WithCause("redstone"), WithID("tick-7"))
	require.NoError(t, err)
	defer w.tracker.End(c)

	assert.Equal(t, "tick-7", c.ID())
	src, ok := cause.NearestOf[Source](c.Cause())
	require.True(t, ok)
	assert.Equal(t, Source{Phase: "block_tick", Kind: ir.KindTick}, src)
	last, _ := c.Cause().Last()
	assert.Equal(t, "redstone", last)
}

func TestEndCommitsEvents(t *testing.T) {
	w, bus := newBlocks(t)
	var seen []event.Event
	bus.Subscribe(event.AnyType, event.Listener{Name: "record", Handle: func(e event.Event) { seen = append(seen, e) }})

	out, err := w.tracker.Run(BlockTick, func(*Context) error {
		w.set(posA, ir.Block("stone"))
		w.set(posB, ir.Block("dirt"))
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeCommitted, out.Result)
	require.Len(t, out.Events, 1)
	require.Len(t, seen, 1)
	cb, ok := seen[0].(*event.ChangeBlockEvent)
	require.True(t, ok)
	assert.Len(t, cb.Transitions, 2)
	assert.Equal(t, event.OpPlace, cb.Transitions[0].Operation)
	assert.Less(t, out.BeganSeq, out.EndedSeq)
	assert.Equal(t, "stone", w.block(posA))
}

func TestEndEmptyPhase(t *testing.T) {
	w, _ := newBlocks(t)

	out, err := w.tracker.Run(EntityTick, func(*Context) error { return nil })

	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeEmpty, out.Result)
	assert.Empty(t, out.Events)
}

func TestCancelledEventRollsBackChain(t *testing.T) {
	w, bus := newBlocks(t)
	w.state[ir.BlockSnapshot{Pos: posB}.Key()] = ir.BlockSnapshot{Pos: posB, State: ir.Block("dirt")}
	cancelFrom(bus, "block_tick")

	out, err := w.tracker.Run(BlockTick, func(*Context) error {
		w.set(posA, ir.Block("stone"))
		w.set(posB, ir.Block("gold_block"))
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeCancelled, out.Result)
	assert.Equal(t, 1, out.CancelledBatches)
	assert.Equal(t, []string{"block:4,64,4", "block:0,64,0"}, w.restores)
	assert.Equal(t, ir.BlockAir, w.block(posA))
	assert.Equal(t, "dirt", w.block(posB))
}

func TestNestedPhaseIsolation(t *testing.T) {
	w, bus := newBlocks(t)
	cancelFrom(bus, "block_tick")
	tr := w.tracker

	outer, err := tr.Begin(BlockTick)
	require.NoError(t, err)
	w.set(posA, ir.Block("piston"))

	inner, err := tr.Begin(PluginCall, With(transaction.PluginKey, "shops"))
	require.NoError(t, err)
	w.set(posB, ir.Block("chest"))
	innerOut := tr.End(inner)

	require.Equal(t, ir.OutcomeCommitted, innerOut.Result)
	assert.Equal(t, 1, inner.Chain().Len())
	assert.Equal(t, 1, outer.Chain().Len(), "nested captures belong to the nested chain only")

	outerOut := tr.End(outer)

	assert.Equal(t, ir.OutcomeCancelled, outerOut.Result)
	assert.Equal(t, []string{"block:0,64,0"}, w.restores, "outer rollback never touches the nested chain")
	assert.Equal(t, "chest", w.block(posB))
	assert.Equal(t, ir.BlockAir, w.block(posA))
}

func TestEndOutOfOrderPanics(t *testing.T) {
	w, _ := newBlocks(t)
	tr := w.tracker
	outer, err := tr.Begin(BlockTick)
	require.NoError(t, err)
	inner, err := tr.Begin(EntityTick)
	require.NoError(t, err)

	f := requireFault(t, fault.CodePhaseOrder, func() { tr.End(outer) })

	assert.Contains(t, f.Dump, "entity_tick")
	assert.Same(t, inner, tr.Current(), "a refused end leaves the stack unchanged")
	tr.End(inner)
	tr.End(outer)
	assert.Equal(t, 0, tr.Depth())
}

func TestEndTwicePanics(t *testing.T) {
	w, _ := newBlocks(t)
	c, err := w.tracker.Begin(BlockTick)
	require.NoError(t, err)
	w.tracker.End(c)

	requireFault(t, fault.CodePhaseOrder, func() { w.tracker.End(c) })
	assert.Equal(t, StateClosed, c.State())
}

func TestEndWithOpenScopePanics(t *testing.T) {
	w, _ := newBlocks(t)
	tr := w.tracker
	c, err := tr.Begin(BlockTick)
	require.NoError(t, err)
	_, tracked := tr.Nest(transaction.PrepareDrops(ir.BlockSnapshot{Pos: posA, State: ir.Block("chest")}))
	require.True(t, tracked)

	requireFault(t, fault.CodeFrameOrder, func() { tr.End(c) })

	assert.Equal(t, 0, tr.Depth(), "the context is popped even when completion panics")
	assert.Equal(t, 1, tr.Stack().Depth())
}

func TestCaptureDuringCompletionPanics(t *testing.T) {
	w, bus := newBlocks(t)
	bus.Subscribe(event.TypeChangeBlock, event.Listener{
		Name:   "sneaky",
		Handle: func(event.Event) { w.set(posB, ir.Block("tnt")) },
	})
	c, err := w.tracker.Begin(BlockTick)
	require.NoError(t, err)
	w.set(posA, ir.Block("stone"))

	requireFault(t, fault.CodePhaseClosed, func() { w.tracker.End(c) })
	assert.Equal(t, 0, w.tracker.Depth())
}

func TestListenerMayRunNestedPhase(t *testing.T) {
	w, bus := newBlocks(t)
	tr := w.tracker
	bus.Subscribe(event.TypeChangeBlock, event.Listener{
		Name: "reactor",
		Handle: func(e event.Event) {
			if src, _ := cause.NearestOf[Source](e.Cause()); src.Phase != "block_tick" {
				return
			}
			_, err := tr.Run(PluginCall, func(*Context) error {
				w.set(posB, ir.Block("glass"))
				return nil
			}, With(transaction.PluginKey, "reactor"))
			require.NoError(t, err)
		},
	})

	out, err := tr.Run(BlockTick, func(*Context) error {
		w.set(posA, ir.Block("stone"))
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeCommitted, out.Result)
	assert.Equal(t, "glass", w.block(posB))
	assert.Equal(t, 0, tr.Depth())
}

func TestRunErrorRollsBack(t *testing.T) {
	w, _ := newBlocks(t)
	boom := errors.New("tick failed")

	out, err := w.tracker.Run(BlockTick, func(*Context) error {
		w.set(posA, ir.Block("fire"))
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, ir.OutcomeCancelled, out.Result)
	assert.ErrorIs(t, out.Err, boom)
	assert.Empty(t, out.Events)
	assert.Equal(t, ir.BlockAir, w.block(posA))
	assert.Equal(t, 0, w.tracker.Depth())
}

func TestRunPopsOnPanic(t *testing.T) {
	w, _ := newBlocks(t)
	tr := w.tracker

	assert.PanicsWithValue(t, "lava", func() {
		_, _ = tr.Run(BlockTick, func(*Context) error {
			w.set(posA, ir.Block("lava"))
			// Leaked nested phase: never ended by the work.
			_, err := tr.Begin(EntityTick)
			require.NoError(t, err)
			w.set(posB, ir.Block("obsidian"))
			panic("lava")
		})
	})

	assert.Equal(t, 0, tr.Depth())
	assert.Equal(t, 1, tr.Stack().Depth())
	assert.Equal(t, []string{"block:4,64,4", "block:0,64,0"}, w.restores)
}

func TestRunRollsBackPhaseLeftOpenByWork(t *testing.T) {
	w, _ := newBlocks(t)
	tr := w.tracker
	var nested *Context

	f := requireFault(t, fault.CodePhaseOrder, func() {
		_, _ = tr.Run(BlockTick, func(*Context) error {
			w.set(posA, ir.Block("stone"))
			var err error
			nested, err = tr.Begin(EntityTick)
			require.NoError(t, err)
			w.set(posB, ir.Block("cobblestone"))
			return nil
		})
	})

	assert.Contains(t, f.Error(), "innermost")
	assert.Equal(t, 0, tr.Depth())
	assert.Equal(t, 1, tr.Stack().Depth())
	assert.Equal(t, StateClosed, nested.State())
	assert.Equal(t, ir.BlockAir, w.block(posA))
	assert.Equal(t, ir.BlockAir, w.block(posB))
	assert.Equal(t, []string{"block:4,64,4", "block:0,64,0"}, w.restores)

	out, err := tr.Run(BlockTick, func(*Context) error {
		w.set(posA, ir.Block("dirt"))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeCommitted, out.Result, "the tracker stays usable")
}

func TestRunNilDefinition(t *testing.T) {
	w, _ := newBlocks(t)

	_, err := w.tracker.Run(nil, func(*Context) error { return nil })

	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodeIdleCapture))
	assert.Equal(t, 0, w.tracker.Depth())
}

func TestRejectedRestoreFailureKeepsPhaseCommitted(t *testing.T) {
	w, bus := newBlocks(t)
	stuck := errors.New("chunk unloaded")
	w.tracker.restorer = restorerFunc(func(s ir.Snapshot) error {
		if s.Key() == (ir.BlockSnapshot{Pos: posA}).Key() {
			return stuck
		}
		return w.ForceRestore(s)
	})
	bus.Subscribe(event.TypeChangeBlock, event.Listener{
		Name: "no-tnt",
		Handle: func(e event.Event) {
			e.(*event.ChangeBlockEvent).InvalidateWhere(func(tr *event.BlockTransition) bool {
				return tr.Final.State.Type == "tnt"
			})
		},
	})

	out, err := w.tracker.Run(BlockTick, func(*Context) error {
		w.set(posA, ir.Block("tnt"))
		w.set(posB, ir.Block("dirt"))
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeCommitted, out.Result)
	assert.False(t, out.Cancelled)
	require.Len(t, out.Rollback.Failures, 1)
	assert.ErrorIs(t, out.Rollback.Failures[0].Err, stuck)
	assert.Equal(t, "dirt", w.block(posB))
}

func TestRunBeginError(t *testing.T) {
	w, _ := newBlocks(t)
	called := false

	_, err := w.tracker.Run(Packet, func(*Context) error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.True(t, fault.IsMissingContext(err))
	assert.False(t, called)
}

func TestDepthLimit(t *testing.T) {
	w, _ := newBlocks(t, WithMaxDepth(2))
	tr := w.tracker

	a, err := tr.Begin(BlockTick)
	require.NoError(t, err)
	b, err := tr.Begin(EntityTick)
	require.NoError(t, err)

	_, err = tr.Begin(BlockTick)

	require.Error(t, err)
	f, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, fault.CodeStackOverflow, f.Code)
	assert.Equal(t, 2, tr.Depth())
	tr.End(b)
	tr.End(a)
}

func TestWorldGenRollsBackOnlyCancelledBatch(t *testing.T) {
	w, bus := newBlocks(t)
	bus.Subscribe(event.TypeSpawnEntity, event.Listener{
		Name:   "no-mobs",
		Handle: func(e event.Event) { e.SetCancelled(true) },
	})
	ents := map[string]ir.Snapshot{}
	w.tracker.restorer = restorerFunc(func(s ir.Snapshot) error {
		ents[s.Key()] = s
		return w.ForceRestore(s)
	})

	out, err := w.tracker.Run(WorldGen, func(*Context) error {
		w.set(posA, ir.Block("grass_block"))
		w.tracker.Capture(transaction.SpawnEntity(ir.EntitySnapshot{ID: "cow-1", Type: "cow", Pos: posA}, ir.SpawnNatural))
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeCommitted, out.Result, "a batch cancel leaves the rest of the chain committed")
	assert.Equal(t, 1, out.CancelledBatches)
	assert.Equal(t, "grass_block", w.block(posA))
	assert.Contains(t, ents, "entity:cow-1")
	assert.Len(t, out.Events, 2)
}

type restorerFunc func(ir.Snapshot) error

func (f restorerFunc) ForceRestore(s ir.Snapshot) error { return f(s) }

type recordingObserver struct {
	began []string
	ended []ir.Outcome
}

func (o *recordingObserver) PhaseBegan(c *Context) { o.began = append(o.began, c.Phase().Name()) }

func (o *recordingObserver) PhaseEnded(_ *Context, out Outcome) { o.ended = append(o.ended, out.Result) }

func TestObserverSeesEveryPhase(t *testing.T) {
	obs := &recordingObserver{}
	w, _ := newBlocks(t, WithObserver(obs))

	_, _ = w.tracker.Run(BlockTick, func(*Context) error {
		w.set(posA, ir.Block("stone"))
		return nil
	})
	_, _ = w.tracker.Run(EntityTick, func(*Context) error { return errors.New("stuck") })

	assert.Equal(t, []string{"block_tick", "entity_tick"}, obs.began)
	assert.Equal(t, []ir.Outcome{ir.OutcomeCommitted, ir.OutcomeCancelled}, obs.ended)
}

func TestTrackerDump(t *testing.T) {
	w, _ := newBlocks(t)
	c, err := w.tracker.Begin(BlockTick, WithID("tick-1"))
	require.NoError(t, err)
	w.set(posA, ir.Block("stone"))

	dump := w.tracker.Dump()

	assert.Contains(t, dump, "=== Phase tracker ===")
	assert.Contains(t, dump, "block_tick#tick-1")
	assert.Contains(t, dump, "idle#idle")
	w.tracker.End(c)
}

func TestRunWorkEndingItsOwnPhasePanics(t *testing.T) {
	w, _ := newBlocks(t)
	tr := w.tracker
	outer, err := tr.Begin(BlockTick)
	require.NoError(t, err)

	requireFault(t, fault.CodePhaseOrder, func() {
		_, _ = tr.Run(EntityTick, func(c *Context) error {
			w.set(posA, ir.Block("sand"))
			tr.End(c)
			return nil
		})
	})

	assert.Equal(t, 1, tr.Depth(), "the enclosing phase stays open")
	assert.Same(t, outer, tr.Current())
	assert.Equal(t, "sand", w.block(posA))
	tr.End(outer)
}
