package event

import (
	"github.com/roach88/causeway/internal/cause"
	"github.com/roach88/causeway/internal/ir"
)

// SlotTransition is one reported inventory slot change.
type SlotTransition struct {
	Original    ir.SlotSnapshot
	Final       ir.SlotSnapshot
	invalidated bool
}

// Invalidate rejects this transition alone.
func (t *SlotTransition) Invalidate() { t.invalidated = true }

// Valid reports whether the transition is still accepted.
func (t *SlotTransition) Valid() bool { return !t.invalidated }

func (t *SlotTransition) payload() ir.IRObject {
	return ir.IRObject{
		"slot":     ir.IRString(t.Original.Key()),
		"original": ir.IRString(t.Original.Item.String()),
		"final":    ir.IRString(t.Final.Item.String()),
		"valid":    ir.IRBool(t.Valid()),
	}
}

// ChangeInventoryEvent reports slot changes made outside a click.
type ChangeInventoryEvent struct {
	Base
	Transitions []*SlotTransition
}

// NewChangeInventory builds the event from transitions in capture order.
func NewChangeInventory(c cause.Cause, ctx cause.Context, transitions []*SlotTransition) *ChangeInventoryEvent {
	return &ChangeInventoryEvent{Base: NewBase(c, ctx), Transitions: transitions}
}

func (*ChangeInventoryEvent) Type() string { return TypeChangeInventory }

// Rejected returns the indexes of invalidated transitions.
func (e *ChangeInventoryEvent) Rejected() []int {
	return rejectedIndexes(len(e.Transitions), func(i int) bool { return e.Transitions[i].Valid() })
}

func (e *ChangeInventoryEvent) Payload() ir.IRObject {
	obj := e.basePayload(TypeChangeInventory)
	arr := make(ir.IRArray, len(e.Transitions))
	for i, tr := range e.Transitions {
		arr[i] = tr.payload()
	}
	obj["transitions"] = arr
	return obj
}

// Click variants.
const (
	ClickPrimary   = "primary"
	ClickSecondary = "secondary"
	ClickMiddle    = "middle"
	ClickDrop      = "drop"
)

// ClickContainerEvent reports one inventory click as a whole. It cannot be
// filtered per slot: a click is accepted or cancelled.
type ClickContainerEvent struct {
	Base
	Variant   string
	Container string
	Cursor    SlotTransition
	// Slot is the clicked slot, nil for clicks outside the window.
	Slot        *ir.SlotSnapshot
	Transitions []*SlotTransition
	Entities    []ir.EntitySnapshot
}

// NewClickContainer builds a click event.
func NewClickContainer(c cause.Cause, ctx cause.Context, variant, container string, cursor SlotTransition, slot *ir.SlotSnapshot, transitions []*SlotTransition, entities []ir.EntitySnapshot) *ClickContainerEvent {
	return &ClickContainerEvent{
		Base:        NewBase(c, ctx),
		Variant:     variant,
		Container:   container,
		Cursor:      cursor,
		Slot:        slot,
		Transitions: transitions,
		Entities:    entities,
	}
}

func (*ClickContainerEvent) Type() string { return TypeClickContainer }

func (e *ClickContainerEvent) Payload() ir.IRObject {
	obj := e.basePayload(TypeClickContainer)
	obj["variant"] = ir.IRString(e.Variant)
	obj["container"] = ir.IRString(e.Container)
	obj["cursor"] = e.Cursor.payload()
	if e.Slot != nil {
		obj["slot"] = ir.IRString(e.Slot.Key())
	}
	arr := make(ir.IRArray, len(e.Transitions))
	for i, tr := range e.Transitions {
		arr[i] = tr.payload()
	}
	obj["transitions"] = arr
	ents := make(ir.IRArray, len(e.Entities))
	for i, ent := range e.Entities {
		ents[i] = ir.IRString(ent.String())
	}
	obj["entities"] = ents
	return obj
}
