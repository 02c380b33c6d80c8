package journal

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/causeway/internal/ir"
)

const phaseColumns = `id, parent_id, name, kind, depth, began_seq, ended_seq, outcome, tx_count, events, failures, context, ir_version`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// ReadPhase retrieves a single phase by ID.
// Returns sql.ErrNoRows if not found.
func (j *Journal) ReadPhase(ctx context.Context, id string) (ir.PhaseRecord, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+phaseColumns+` FROM phases WHERE id = ?`, id)
	return scanPhase(row)
}

// ListPhases returns top-level phases ordered by began_seq ASC, id ASC.
// Nested phases are reached through ReadChildren.
//
// Returns an empty slice (not nil) for an empty journal.
func (j *Journal) ListPhases(ctx context.Context) ([]ir.PhaseRecord, error) {
	return j.queryPhases(ctx, `
		SELECT `+phaseColumns+`
		FROM phases
		WHERE parent_id IS NULL
		ORDER BY began_seq ASC, id COLLATE BINARY ASC
	`)
}

// ReadChildren returns the phases that ran nested inside parentID, in the
// order they began.
func (j *Journal) ReadChildren(ctx context.Context, parentID string) ([]ir.PhaseRecord, error) {
	return j.queryPhases(ctx, `
		SELECT `+phaseColumns+`
		FROM phases
		WHERE parent_id = ?
		ORDER BY began_seq ASC, id COLLATE BINARY ASC
	`, parentID)
}

// ListByOutcome returns every phase with the given outcome, nested ones
// included, ordered by began_seq.
func (j *Journal) ListByOutcome(ctx context.Context, outcome ir.Outcome) ([]ir.PhaseRecord, error) {
	return j.queryPhases(ctx, `
		SELECT `+phaseColumns+`
		FROM phases
		WHERE outcome = ?
		ORDER BY began_seq ASC, id COLLATE BINARY ASC
	`, string(outcome))
}

func (j *Journal) queryPhases(ctx context.Context, query string, args ...any) ([]ir.PhaseRecord, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query phases: %w", err)
	}
	defer rows.Close()

	phases := []ir.PhaseRecord{}
	for rows.Next() {
		p, err := scanPhase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan phase: %w", err)
		}
		phases = append(phases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate phases: %w", err)
	}
	return phases, nil
}

func scanPhase(row rowScanner) (ir.PhaseRecord, error) {
	var p ir.PhaseRecord
	var parentID sql.NullString
	var outcome, contextJSON string

	if err := row.Scan(
		&p.ID, &parentID, &p.Name, &p.Kind, &p.Depth, &p.BeganSeq, &p.EndedSeq,
		&outcome, &p.TxCount, &p.Events, &p.Failures, &contextJSON, &p.IRVersion,
	); err != nil {
		return ir.PhaseRecord{}, err
	}
	p.ParentID = parentID.String
	p.Outcome = ir.Outcome(outcome)

	values, err := unmarshalObject(contextJSON)
	if err != nil {
		return ir.PhaseRecord{}, err
	}
	p.Context = values
	return p, nil
}

// ReadTransactions returns a phase's transactions in insertion order.
func (j *Journal) ReadTransactions(ctx context.Context, phaseID string) ([]ir.TransactionRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, phase_id, parent_id, seq, kind, target, original, resulting, restored
		FROM transactions
		WHERE phase_id = ?
		ORDER BY seq ASC
	`, phaseID)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	txs := []ir.TransactionRecord{}
	for rows.Next() {
		var r ir.TransactionRecord
		var parentID, resulting sql.NullString
		var original string
		if err := rows.Scan(&r.ID, &r.PhaseID, &parentID, &r.Seq, &r.Kind, &r.Target, &original, &resulting, &r.Restored); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		r.ParentID = parentID.String
		if r.Original, err = unmarshalObject(original); err != nil {
			return nil, err
		}
		if r.Resulting, err = unmarshalNullable(resulting); err != nil {
			return nil, err
		}
		txs = append(txs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}

// ReadHistory returns every journaled transaction that touched target
// (a snapshot key such as "block:0,64,0"), oldest phase first.
func (j *Journal) ReadHistory(ctx context.Context, target string) ([]ir.TransactionRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT t.id, t.phase_id, t.seq, t.kind, t.restored
		FROM transactions t
		JOIN phases p ON t.phase_id = p.id
		WHERE t.target = ?
		ORDER BY p.began_seq ASC, t.seq ASC
	`, target)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	txs := []ir.TransactionRecord{}
	for rows.Next() {
		r := ir.TransactionRecord{Target: target}
		if err := rows.Scan(&r.ID, &r.PhaseID, &r.Seq, &r.Kind, &r.Restored); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		txs = append(txs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return txs, nil
}

// ReadCauses returns the phase's cause at begin, outermost first.
func (j *Journal) ReadCauses(ctx context.Context, phaseID string) ([]ir.CauseRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT phase_id, seq, value FROM causes WHERE phase_id = ? ORDER BY seq ASC
	`, phaseID)
	if err != nil {
		return nil, fmt.Errorf("query causes: %w", err)
	}
	defer rows.Close()

	causes := []ir.CauseRecord{}
	for rows.Next() {
		var r ir.CauseRecord
		if err := rows.Scan(&r.PhaseID, &r.Seq, &r.Value); err != nil {
			return nil, fmt.Errorf("scan cause: %w", err)
		}
		causes = append(causes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate causes: %w", err)
	}
	return causes, nil
}

// ReadEvents returns the events a phase dispatched, in dispatch order.
func (j *Journal) ReadEvents(ctx context.Context, phaseID string) ([]ir.EventRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT phase_id, seq, type, cancelled, payload FROM events WHERE phase_id = ? ORDER BY seq ASC
	`, phaseID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []ir.EventRecord{}
	for rows.Next() {
		var r ir.EventRecord
		var payload string
		if err := rows.Scan(&r.PhaseID, &r.Seq, &r.Type, &r.Cancelled, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if r.Payload, err = unmarshalObject(payload); err != nil {
			return nil, err
		}
		events = append(events, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
