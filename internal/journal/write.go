package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/causeway/internal/ir"
	"github.com/roach88/causeway/internal/phase"
	"github.com/roach88/causeway/internal/transaction"
)

// Entry is everything journaled for one completed phase.
type Entry struct {
	Phase        ir.PhaseRecord
	Transactions []ir.TransactionRecord
	Causes       []ir.CauseRecord
	Events       []ir.EventRecord
}

// EntryFor builds the journal entry of a phase that just ended.
// Called from the simulation goroutine while the context is still readable.
func EntryFor(c *phase.Context, out phase.Outcome) (Entry, error) {
	values, err := contextObject(c)
	if err != nil {
		return Entry{}, fmt.Errorf("phase %s context: %w", c.ID(), err)
	}

	e := Entry{Phase: ir.PhaseRecord{
		ID:        c.ID(),
		Name:      c.Phase().Name(),
		Kind:      string(c.Phase().Kind()),
		Depth:     c.Depth(),
		BeganSeq:  out.BeganSeq,
		EndedSeq:  out.EndedSeq,
		Outcome:   out.Result,
		TxCount:   c.Chain().Len(),
		Events:    len(out.Events),
		Failures:  len(out.Rollback.Failures),
		Context:   values,
		IRVersion: ir.IRVersion,
	}}
	if p := c.Parent(); p != nil && !p.IsIdle() {
		e.Phase.ParentID = p.ID()
	}

	c.Chain().Walk(func(n transaction.Node) bool {
		rec := ir.TransactionRecord{
			ID:       n.ID,
			PhaseID:  c.ID(),
			ParentID: n.ParentID,
			Seq:      n.Seq,
			Kind:     string(n.Tx.Kind()),
			Target:   n.Tx.Target(),
			Original: n.Tx.Original().Value(),
			Restored: n.Restored,
		}
		if res, ok := n.Tx.Resulting(); ok {
			rec.Resulting = res.Value()
		}
		e.Transactions = append(e.Transactions, rec)
		return true
	})

	for i, s := range c.Cause().Strings() {
		e.Causes = append(e.Causes, ir.CauseRecord{PhaseID: c.ID(), Seq: int64(i), Value: s})
	}

	for i, ev := range out.Events {
		e.Events = append(e.Events, ir.EventRecord{
			PhaseID:   c.ID(),
			Seq:       int64(i),
			Type:      ev.Type(),
			Cancelled: ev.Cancelled(),
			Payload:   ev.Payload(),
		})
	}
	return e, nil
}

// contextObject converts the phase's context values to IR. Values without
// an IR form are stored by their string representation.
func contextObject(c *phase.Context) (ir.IRObject, error) {
	vals := c.Values()
	keys := vals.Keys()
	sort.Strings(keys)

	obj := make(ir.IRObject, len(keys))
	for _, k := range keys {
		raw, _ := vals.Raw(k)
		if v, err := ir.FromAny(raw); err == nil {
			obj[k] = v
			continue
		}
		if raw == nil {
			return nil, fmt.Errorf("key %q has no value", k)
		}
		obj[k] = ir.IRString(fmt.Sprint(raw))
	}
	return obj, nil
}

// WritePhase writes e in one database transaction.
// Uses ON CONFLICT(id) DO NOTHING on the phase row: a phase that is
// already journaled is left untouched, children included.
func (j *Journal) WritePhase(ctx context.Context, e Entry) error {
	p := e.Phase
	contextJSON, err := marshalObject(p.Context)
	if err != nil {
		return fmt.Errorf("write phase %s: %w", p.ID, err)
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write phase %s: begin tx: %w", p.ID, err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		INSERT INTO phases
		(id, parent_id, name, kind, depth, began_seq, ended_seq, outcome, tx_count, events, failures, context, ir_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		p.ID,
		nullString(p.ParentID),
		p.Name,
		p.Kind,
		p.Depth,
		p.BeganSeq,
		p.EndedSeq,
		string(p.Outcome),
		p.TxCount,
		p.Events,
		p.Failures,
		contextJSON,
		p.IRVersion,
	)
	if err != nil {
		return fmt.Errorf("write phase %s: %w", p.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("write phase %s: rows affected: %w", p.ID, err)
	} else if n == 0 {
		return nil
	}

	if err := writeTransactions(ctx, tx, e.Transactions); err != nil {
		return fmt.Errorf("write phase %s: %w", p.ID, err)
	}
	if err := writeCauses(ctx, tx, e.Causes); err != nil {
		return fmt.Errorf("write phase %s: %w", p.ID, err)
	}
	if err := writeEvents(ctx, tx, e.Events); err != nil {
		return fmt.Errorf("write phase %s: %w", p.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write phase %s: commit: %w", p.ID, err)
	}
	return nil
}

func writeTransactions(ctx context.Context, tx *sql.Tx, recs []ir.TransactionRecord) error {
	for _, r := range recs {
		original, err := marshalObject(r.Original)
		if err != nil {
			return fmt.Errorf("transaction %d: %w", r.Seq, err)
		}
		resulting, err := marshalNullable(r.Resulting)
		if err != nil {
			return fmt.Errorf("transaction %d: %w", r.Seq, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO transactions
			(id, phase_id, parent_id, seq, kind, target, original, resulting, restored)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			r.ID,
			r.PhaseID,
			nullString(r.ParentID),
			r.Seq,
			r.Kind,
			r.Target,
			original,
			resulting,
			r.Restored,
		)
		if err != nil {
			return fmt.Errorf("transaction %d: %w", r.Seq, err)
		}
	}
	return nil
}

func writeCauses(ctx context.Context, tx *sql.Tx, recs []ir.CauseRecord) error {
	for _, r := range recs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO causes (phase_id, seq, value) VALUES (?, ?, ?)
		`, r.PhaseID, r.Seq, r.Value); err != nil {
			return fmt.Errorf("cause %d: %w", r.Seq, err)
		}
	}
	return nil
}

func writeEvents(ctx context.Context, tx *sql.Tx, recs []ir.EventRecord) error {
	for _, r := range recs {
		payload, err := marshalObject(r.Payload)
		if err != nil {
			return fmt.Errorf("event %d: %w", r.Seq, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO events (phase_id, seq, type, cancelled, payload) VALUES (?, ?, ?, ?, ?)
		`, r.PhaseID, r.Seq, r.Type, r.Cancelled, payload); err != nil {
			return fmt.Errorf("event %d: %w", r.Seq, err)
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Recorder is a phase.Observer that journals every phase as it ends.
//
// Observers cannot fail a phase, so write errors are logged and the first
// one is kept for Err.
type Recorder struct {
	j   *Journal
	ctx context.Context

	mu      sync.Mutex
	err     error
	written int
}

// Recorder returns an observer writing to j with ctx.
func (j *Journal) Recorder(ctx context.Context) *Recorder {
	return &Recorder{j: j, ctx: ctx}
}

// PhaseBegan implements phase.Observer. Phases are journaled when they end.
func (r *Recorder) PhaseBegan(*phase.Context) {}

// PhaseEnded implements phase.Observer.
func (r *Recorder) PhaseEnded(c *phase.Context, out phase.Outcome) {
	e, err := EntryFor(c, out)
	if err == nil {
		err = r.j.WritePhase(r.ctx, e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		slog.Error("journal write failed", "phase", c.Phase().Name(), "phase_id", c.ID(), "error", err)
		if r.err == nil {
			r.err = err
		}
		return
	}
	r.written++
}

// Err returns the first write error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Written returns the number of phases journaled.
func (r *Recorder) Written() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}
