package phase

import (
	"github.com/roach88/causeway/internal/event"
	"github.com/roach88/causeway/internal/ir"
	"github.com/roach88/causeway/internal/transaction"
)

// Outcome is the result of ending a phase.
type Outcome struct {
	PhaseID          string
	Result           ir.Outcome
	Events           []event.Event
	Cancelled        bool
	CancelledBatches int
	Rollback         transaction.RollbackReport
	BeganSeq         int64
	EndedSeq         int64
	// Err is set when the phase's work failed and the chain was rolled back.
	Err error
}

// outcomeOf derives the result from cancellation. Restore failures of
// individually rejected entries stay in Rollback and never turn an
// uncancelled phase into a partial rollback.
func outcomeOf(res transaction.CommitResult, txCount int) ir.Outcome {
	switch {
	case res.Cancelled && res.Rollback.Partial():
		return ir.OutcomeRolledBackPartial
	case res.Cancelled:
		return ir.OutcomeCancelled
	case txCount == 0:
		return ir.OutcomeEmpty
	default:
		return ir.OutcomeCommitted
	}
}

// Observer is notified as phases begin and end. Observers run on the
// simulation goroutine and must not begin or end phases.
type Observer interface {
	PhaseBegan(c *Context)
	PhaseEnded(c *Context, out Outcome)
}

// MultiObserver fans out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) PhaseBegan(c *Context) {
	for _, o := range m {
		o.PhaseBegan(c)
	}
}

func (m MultiObserver) PhaseEnded(c *Context, out Outcome) {
	for _, o := range m {
		o.PhaseEnded(c, out)
	}
}

type nopObserver struct{}

func (nopObserver) PhaseBegan(*Context) {}
func (nopObserver) PhaseEnded(*Context, Outcome) {}
