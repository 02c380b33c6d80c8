package phase

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/roach88/causeway/internal/cause"
	"github.com/roach88/causeway/internal/event"
	"github.com/roach88/causeway/internal/ir"
	"github.com/roach88/causeway/internal/transaction"
)

// ButtonMask is a set of click packet flags: which button, which mode, and
// where the click landed.
type ButtonMask uint32

const (
	ButtonPrimary ButtonMask = 1 << iota
	ButtonSecondary
	ButtonMiddle
	ModeClick
	ModeShiftClick
	ModeHotbar
	ModePickBlock
	ModeDrop
	ClickInsideWindow
	ClickOutsideWindow
)

var buttonNames = []struct {
	bit  ButtonMask
	name string
}{
	{ButtonPrimary, "BUTTON_PRIMARY"},
	{ButtonSecondary, "BUTTON_SECONDARY"},
	{ButtonMiddle, "BUTTON_MIDDLE"},
	{ModeClick, "MODE_CLICK"},
	{ModeShiftClick, "MODE_SHIFT_CLICK"},
	{ModeHotbar, "MODE_HOTBAR"},
	{ModePickBlock, "MODE_PICKBLOCK"},
	{ModeDrop, "MODE_DROP"},
	{ClickInsideWindow, "CLICK_INSIDE_WINDOW"},
	{ClickOutsideWindow, "CLICK_OUTSIDE_WINDOW"},
}

// ParseButtons combines flag names into a mask.
func ParseButtons(names []string) (ButtonMask, error) {
	var mask ButtonMask
	for _, n := range names {
		found := false
		for _, b := range buttonNames {
			if strings.EqualFold(n, b.name) {
				mask |= b.bit
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown click flag %q", n)
		}
	}
	return mask, nil
}

// Names returns the flag names set in m.
func (m ButtonMask) Names() []string {
	out := make([]string, 0, bits.OnesCount32(uint32(m)))
	for _, b := range buttonNames {
		if m&b.bit != 0 {
			out = append(out, b.name)
		}
	}
	return out
}

func (m ButtonMask) String() string {
	return strings.Join(m.Names(), "|")
}

// Matches reports whether a click packet's flags are all allowed by m.
func (m ButtonMask) Matches(packet ButtonMask) bool {
	return m != 0 && packet != 0 && packet&m == packet
}

// Inventory click states, tried in order by SelectClickState.
var (
	PrimaryClick = newClickState("click_primary", event.ClickPrimary,
		ButtonPrimary|ModeClick|ClickInsideWindow)

	SecondaryClick = newClickState("click_secondary", event.ClickSecondary,
		ButtonSecondary|ModeClick|ClickInsideWindow)

	// MiddleClick also accepts the primary button: clients remap pick-block
	// to it.
	MiddleClick = newClickState("click_middle", event.ClickMiddle,
		ButtonPrimary|ButtonMiddle|ModePickBlock|ClickInsideWindow|ClickOutsideWindow)

	DropOutside = newClickState("click_drop_outside", event.ClickDrop,
		ButtonPrimary|ButtonSecondary|ModeClick|ClickOutsideWindow)
)

func newClickState(name, variant string, mask ButtonMask) *Definition {
	return NewDefinition(ir.PhaseSpec{
		Name:        name,
		Kind:        ir.KindPacket,
		Requires:    []string{transaction.PlayerKey.Name(), transaction.ContainerKey.Name()},
		Buttons:     mask.Names(),
		Variant:     variant,
		Description: variant + " inventory click",
	}, WithButtons(mask), WithConverter(ClickConvert))
}

// ClickStates returns the built-in inventory click states in selection order.
func ClickStates() []*Definition {
	return []*Definition{PrimaryClick, SecondaryClick, MiddleClick, DropOutside}
}

// SelectClickState returns the first of states whose mask matches packet.
// With no states given, the built-in click states are used.
func SelectClickState(packet ButtonMask, states ...*Definition) (*Definition, bool) {
	if len(states) == 0 {
		states = ClickStates()
	}
	for _, d := range states {
		if d.mask.Matches(packet) {
			return d, true
		}
	}
	return nil, false
}

// ClickConvert turns the slot changes of a click into one
// ClickContainerEvent carrying the cursor transition, the clicked slot and
// the entities the click spawned. Spawns inside a click are reported by the
// click event instead of their own.
//
// A click packet yields exactly one event: the first slot batch of the
// chain reports every slot change, later slot batches report nothing.
func ClickConvert(c *Context, b transaction.Batch, cs cause.Cause, ctx cause.Context) event.Event {
	switch b.Kind {
	case transaction.KindSpawnEntity:
		return nil
	case transaction.KindSlotChange:
	default:
		return DefaultConvert(c, b, cs, ctx)
	}

	slots := clickSlots(c.Chain())
	if len(slots) == 0 || len(b.Transactions) == 0 || transaction.Transaction(slots[0]) != b.Transactions[0] {
		return nil
	}

	container, _ := cause.Value(ctx, transaction.ContainerKey)
	clicked, hasClicked := cause.Value(ctx, transaction.ClickedSlotKey)

	var cursor event.SlotTransition
	var slot *ir.SlotSnapshot
	transitions := make([]*event.SlotTransition, 0, len(slots))
	for _, sc := range slots {
		original, resulting := sc.Slot()
		if original.Index == ir.CursorSlot {
			cursor = event.SlotTransition{Original: original, Final: resulting}
			continue
		}
		if hasClicked && original.Index == clicked && slot == nil {
			s := original
			slot = &s
		}
		transitions = append(transitions, &event.SlotTransition{Original: original, Final: resulting})
	}

	var entities []ir.EntitySnapshot
	for _, tx := range c.Chain().Transactions() {
		if sp, ok := tx.(*transaction.SpawnEntityTx); ok {
			entities = append(entities, sp.Entity())
		}
	}

	return event.NewClickContainer(cs, ctx, c.Phase().spec.Variant, container, cursor, slot, transitions, entities)
}

// clickSlots returns the slot changes of chain not yet restored, in
// capture order.
func clickSlots(chain *transaction.Chain) []*transaction.SlotChangeTx {
	var out []*transaction.SlotChangeTx
	for _, tx := range chain.Transactions() {
		if sc, ok := tx.(*transaction.SlotChangeTx); ok && !chain.Restored(tx) {
			out = append(out, sc)
		}
	}
	return out
}
