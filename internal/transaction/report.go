package transaction

import (
	"fmt"

	"github.com/roach88/causeway/internal/event"
)

// RestoreFailure records one transaction whose restore failed. Rollback
// continues past failures; they are reported, never propagated.
type RestoreFailure struct {
	ID          string
	Kind        Kind
	Target      string
	Err         error
	Description string
}

func (f RestoreFailure) Error() string {
	return fmt.Sprintf("restore %s %s: %v", f.Kind, f.Target, f.Err)
}

// RollbackReport summarizes a rollback.
type RollbackReport struct {
	Restored int
	Failures []RestoreFailure
}

// Partial reports whether any restore failed.
func (r RollbackReport) Partial() bool {
	return len(r.Failures) > 0
}

func (r *RollbackReport) merge(other RollbackReport) {
	r.Restored += other.Restored
	r.Failures = append(r.Failures, other.Failures...)
}

// CommitResult is the outcome of Chain.Commit.
type CommitResult struct {
	// Events are every dispatched event in dispatch order.
	Events []event.Event

	// Cancelled is true when a cancelled event rolled back the whole chain.
	Cancelled bool

	// CancelledBatches counts cancelled events, including ones whose batch
	// alone was rolled back.
	CancelledBatches int

	// Rollback covers every restore performed during commit: rejected
	// entries, cancelled batches and whole-chain rollback.
	Rollback RollbackReport
}
