package event

import (
	"github.com/roach88/causeway/internal/cause"
	"github.com/roach88/causeway/internal/ir"
)

// BlockOperation classifies a block transition.
type BlockOperation string

const (
	OpPlace  BlockOperation = "place"
	OpBreak  BlockOperation = "break"
	OpModify BlockOperation = "modify"
)

// OperationOf derives the operation from the original and final states.
func OperationOf(original, final ir.BlockState) BlockOperation {
	switch {
	case original.IsAir() && !final.IsAir():
		return OpPlace
	case !original.IsAir() && final.IsAir():
		return OpBreak
	default:
		return OpModify
	}
}

// BlockTransition is one reported block change.
type BlockTransition struct {
	Original    ir.BlockSnapshot
	Final       ir.BlockSnapshot
	Operation   BlockOperation
	invalidated bool
}

// Invalidate rejects this transition alone.
func (t *BlockTransition) Invalidate() { t.invalidated = true }

// Valid reports whether the transition is still accepted.
func (t *BlockTransition) Valid() bool { return !t.invalidated }

// ChangeBlockEvent reports a batch of block changes.
type ChangeBlockEvent struct {
	Base
	Transitions []*BlockTransition
}

// NewChangeBlock builds the event from transitions in capture order.
func NewChangeBlock(c cause.Cause, ctx cause.Context, transitions []*BlockTransition) *ChangeBlockEvent {
	return &ChangeBlockEvent{Base: NewBase(c, ctx), Transitions: transitions}
}

func (*ChangeBlockEvent) Type() string { return TypeChangeBlock }

// Rejected returns the indexes of invalidated transitions.
func (e *ChangeBlockEvent) Rejected() []int {
	return rejectedIndexes(len(e.Transitions), func(i int) bool { return e.Transitions[i].Valid() })
}

// InvalidateWhere invalidates every transition matching pred.
func (e *ChangeBlockEvent) InvalidateWhere(pred func(*BlockTransition) bool) int {
	n := 0
	for _, tr := range e.Transitions {
		if tr.Valid() && pred(tr) {
			tr.Invalidate()
			n++
		}
	}
	return n
}

func (e *ChangeBlockEvent) Payload() ir.IRObject {
	obj := e.basePayload(TypeChangeBlock)
	arr := make(ir.IRArray, len(e.Transitions))
	for i, tr := range e.Transitions {
		arr[i] = ir.IRObject{
			"pos":       ir.IRString(tr.Original.Pos.String()),
			"original":  ir.IRString(tr.Original.State.String()),
			"final":     ir.IRString(tr.Final.State.String()),
			"operation": ir.IRString(tr.Operation),
			"valid":     ir.IRBool(tr.Valid()),
		}
	}
	obj["transitions"] = arr
	return obj
}
