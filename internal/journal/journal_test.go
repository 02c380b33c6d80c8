package journal

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causeway/internal/event"
	"github.com/roach88/causeway/internal/ir"
	"github.com/roach88/causeway/internal/phase"
	"github.com/roach88/causeway/internal/testutil"
	"github.com/roach88/causeway/internal/transaction"
	"github.com/roach88/causeway/internal/world"
)

var (
	posA = ir.Pos(0, 64, 0)
	posB = ir.Pos(1, 64, 0)
)

// createTestJournal opens a journal in a temp dir, closed with the test.
func createTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

// journaledWorld returns a world whose phases are journaled to j.
func journaledWorld(t *testing.T, j *Journal) (*world.World, *event.Bus, *Recorder) {
	t.Helper()
	bus := event.NewBus()
	rec := j.Recorder(context.Background())
	w := world.New("overworld", bus,
		phase.WithObserver(rec),
		phase.WithClock(testutil.NewDeterministicClock()),
		phase.WithIDGenerator(testutil.NewSequentialIDs("phase")),
	)
	return w, bus, rec
}

func TestOpen_CreatesAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j1.Close())
	_, err = os.Stat(path)
	require.NoError(t, err, "database file was not created")

	j2, err := Open(path)
	require.NoError(t, err)
	defer j2.Close()

	for _, table := range []string{"phases", "transactions", "causes", "events"} {
		var name string
		err := j2.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %q missing", table)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	j := createTestJournal(t)

	assert.NoError(t, j.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, j.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, j.verifyPragma("user_version", "1"))

	var name string
	err := j.db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_transactions_target'").Scan(&name)
	assert.NoError(t, err, "v1 migration index missing")
}

func TestRecorder_JournalsCommittedPhase(t *testing.T) {
	j := createTestJournal(t)
	w, _, rec := journaledWorld(t, j)
	ctx := context.Background()

	out, err := w.Tracker().Run(phase.Packet, func(*phase.Context) error {
		w.SetBlock(posA, ir.Block("stone"))
		w.SetBlock(posB, ir.Block("dirt"))
		return nil
	}, phase.With(transaction.PlayerKey, "alex"))
	require.NoError(t, err)
	require.NoError(t, rec.Err())
	assert.Equal(t, 1, rec.Written())

	p, err := j.ReadPhase(ctx, out.PhaseID)
	require.NoError(t, err)
	assert.Equal(t, "packet", p.Name)
	assert.Equal(t, string(ir.KindPacket), p.Kind)
	assert.Empty(t, p.ParentID)
	assert.Equal(t, 1, p.Depth)
	assert.Equal(t, ir.OutcomeCommitted, p.Outcome)
	assert.Equal(t, 2, p.TxCount)
	assert.Equal(t, 1, p.Events)
	assert.Equal(t, 0, p.Failures)
	assert.Equal(t, out.BeganSeq, p.BeganSeq)
	assert.Equal(t, out.EndedSeq, p.EndedSeq)
	assert.True(t, ir.Equal(ir.IRObject{"player": ir.IRString("alex")}, p.Context))
	assert.Equal(t, ir.IRVersion, p.IRVersion)

	txs, err := j.ReadTransactions(ctx, out.PhaseID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, int64(1), txs[0].Seq)
	assert.Equal(t, string(transaction.KindBlockChange), txs[0].Kind)
	assert.Equal(t, "block:0,64,0", txs[0].Target)
	assert.True(t, ir.Equal(ir.BlockSnapshot{Pos: posA, State: ir.Air()}.Value(), txs[0].Original))
	assert.True(t, ir.Equal(ir.BlockSnapshot{Pos: posA, State: ir.Block("stone")}.Value(), txs[0].Resulting))
	assert.False(t, txs[0].Restored)
	assert.Equal(t, "block:1,64,0", txs[1].Target)

	causes, err := j.ReadCauses(ctx, out.PhaseID)
	require.NoError(t, err)
	require.NotEmpty(t, causes)
	assert.Equal(t, "phase:idle", causes[0].Value, "outermost cause first")
	assert.Equal(t, "phase:packet", causes[len(causes)-1].Value)

	events, err := j.ReadEvents(ctx, out.PhaseID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.TypeChangeBlock, events[0].Type)
	assert.False(t, events[0].Cancelled)
	assert.Len(t, events[0].Payload["transitions"], 2)
}

func TestRecorder_JournalsCancelledPhase(t *testing.T) {
	j := createTestJournal(t)
	w, bus, _ := journaledWorld(t, j)
	bus.Subscribe(event.TypeChangeBlock, event.Listener{Name: "deny", Handle: func(e event.Event) { e.SetCancelled(true) }})
	ctx := context.Background()

	out, err := w.Tracker().Run(phase.BlockTick, func(*phase.Context) error {
		w.SetBlock(posA, ir.Block("tnt"))
		return nil
	})
	require.NoError(t, err)

	p, err := j.ReadPhase(ctx, out.PhaseID)
	require.NoError(t, err)
	assert.Equal(t, ir.OutcomeCancelled, p.Outcome)

	txs, err := j.ReadTransactions(ctx, out.PhaseID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Restored)

	events, err := j.ReadEvents(ctx, out.PhaseID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Cancelled)

	cancelled, err := j.ListByOutcome(ctx, ir.OutcomeCancelled)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, out.PhaseID, cancelled[0].ID)
}

func TestRecorder_NestedPhasesAreChildren(t *testing.T) {
	j := createTestJournal(t)
	w, _, _ := journaledWorld(t, j)
	ctx := context.Background()

	var childID string
	parent, err := w.Tracker().Run(phase.BlockTick, func(*phase.Context) error {
		w.SetBlock(posA, ir.Block("piston"))
		child, err := w.Tracker().Run(phase.EntityTick, func(*phase.Context) error {
			w.SetBlock(posB, ir.Block("sand"))
			return nil
		})
		childID = child.PhaseID
		return err
	})
	require.NoError(t, err)

	top, err := j.ListPhases(ctx)
	require.NoError(t, err)
	require.Len(t, top, 1, "nested phases are not listed at the top level")
	assert.Equal(t, parent.PhaseID, top[0].ID)

	children, err := j.ReadChildren(ctx, parent.PhaseID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, childID, children[0].ID)
	assert.Equal(t, parent.PhaseID, children[0].ParentID)
	assert.Equal(t, 2, children[0].Depth)
	assert.Less(t, children[0].EndedSeq, top[0].EndedSeq, "the child ends first")

	last, err := j.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, top[0].EndedSeq, last)
}

func TestWritePhase_Idempotent(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()
	e := Entry{
		Phase: ir.PhaseRecord{
			ID: "p1", Name: "block_tick", Kind: "tick", Depth: 1,
			BeganSeq: 1, EndedSeq: 2, Outcome: ir.OutcomeCommitted, TxCount: 1, IRVersion: ir.IRVersion,
		},
		Transactions: []ir.TransactionRecord{{
			ID: "t1", PhaseID: "p1", Seq: 1, Kind: "prepare_drops", Target: "block:0,0,0",
			Original: ir.BlockSnapshot{Pos: ir.Pos(0, 0, 0), State: ir.Block("chest")}.Value(),
		}},
		Causes: []ir.CauseRecord{{PhaseID: "p1", Seq: 0, Value: "phase:block_tick"}},
	}

	require.NoError(t, j.WritePhase(ctx, e))
	require.NoError(t, j.WritePhase(ctx, e))

	var count int
	require.NoError(t, j.db.QueryRow("SELECT COUNT(*) FROM transactions").Scan(&count))
	assert.Equal(t, 1, count)

	txs, err := j.ReadTransactions(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Nil(t, txs[0].Resulting, "markers have no resulting snapshot")
}

func TestReadPhase_NotFound(t *testing.T) {
	j := createTestJournal(t)

	_, err := j.ReadPhase(context.Background(), "missing")

	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestEmptyJournal(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	phases, err := j.ListPhases(ctx)
	require.NoError(t, err)
	assert.NotNil(t, phases)
	assert.Empty(t, phases)

	last, err := j.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), last)
}

func TestReadHistory(t *testing.T) {
	j := createTestJournal(t)
	w, _, _ := journaledWorld(t, j)
	ctx := context.Background()

	for _, typ := range []string{"stone", "dirt"} {
		_, err := w.Tracker().Run(phase.BlockTick, func(*phase.Context) error {
			w.SetBlock(posA, ir.Block(typ))
			w.SetBlock(posB, ir.Block(typ))
			return nil
		})
		require.NoError(t, err)
	}

	history, err := j.ReadHistory(ctx, "block:0,64,0")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.NotEqual(t, history[0].PhaseID, history[1].PhaseID)
	assert.Equal(t, int64(1), history[0].Seq)
}

func TestRecorder_KeepsFirstError(t *testing.T) {
	j := createTestJournal(t)
	w, _, rec := journaledWorld(t, j)
	require.NoError(t, j.Close())

	_, err := w.Tracker().Run(phase.BlockTick, func(*phase.Context) error {
		w.SetBlock(posA, ir.Block("stone"))
		return nil
	})

	require.NoError(t, err, "a journal failure never fails the phase")
	assert.Error(t, rec.Err())
	assert.Equal(t, 0, rec.Written())
	assert.Equal(t, "stone", w.Block(posA).Type)
}
