// Package event defines the events the tracker dispatches to listeners
// when a phase commits, and the Bus that delivers them.
//
// Every event is cancellable. Cancelling an event vetoes the mutations it
// reports and the owning phase rolls them back. Events that report several
// entries (block transitions, spawned entities, slot transitions) also let
// a listener reject single entries; only the transactions behind rejected
// entries are restored.
package event

import (
	"github.com/roach88/causeway/internal/cause"
	"github.com/roach88/causeway/internal/ir"
)

// Event type names, also used as Bus subscription keys.
const (
	TypeChangeBlock     = "change_block"
	TypeSpawnEntity     = "spawn_entity"
	TypeDestructEntity  = "destruct_entity"
	TypeChangeInventory = "change_inventory"
	TypeClickContainer  = "click_container"
)

// Event is a plugin-visible notification of committed mutations.
type Event interface {
	Type() string
	Cause() cause.Cause
	Context() cause.Context
	Cancelled() bool
	SetCancelled(bool)
	Payload() ir.IRObject
}

// Filterable is implemented by events whose entries can be rejected one at
// a time. Rejected returns entry indexes in the order the event reported
// them.
type Filterable interface {
	Event
	Rejected() []int
}

// Base carries the fields every event shares. Embed it.
type Base struct {
	cause     cause.Cause
	context   cause.Context
	cancelled bool
}

// NewBase builds a Base from the cause and context current at dispatch.
func NewBase(c cause.Cause, ctx cause.Context) Base {
	return Base{cause: c, context: ctx}
}

func (b *Base) Cause() cause.Cause { return b.cause }

func (b *Base) Context() cause.Context { return b.context }

func (b *Base) Cancelled() bool { return b.cancelled }

func (b *Base) SetCancelled(v bool) { b.cancelled = v }

func (b *Base) basePayload(typ string) ir.IRObject {
	causes := make(ir.IRArray, 0, b.cause.Len())
	for _, s := range b.cause.Strings() {
		causes = append(causes, ir.IRString(s))
	}
	return ir.IRObject{
		"type":      ir.IRString(typ),
		"cause":     causes,
		"cancelled": ir.IRBool(b.cancelled),
	}
}

func rejectedIndexes(n int, valid func(i int) bool) []int {
	var out []int
	for i := 0; i < n; i++ {
		if !valid(i) {
			out = append(out, i)
		}
	}
	return out
}
