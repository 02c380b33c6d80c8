package phase

import (
	"log/slog"

	"github.com/roach88/causeway/internal/cause"
	"github.com/roach88/causeway/internal/event"
	"github.com/roach88/causeway/internal/ir"
	"github.com/roach88/causeway/internal/transaction"
)

// DefaultConvert maps each transaction kind to its event: block changes to
// ChangeBlockEvent, spawns to SpawnEntityEvent, removals to
// DestructEntityEvent and slot changes to ChangeInventoryEvent. Markers
// produce nothing.
func DefaultConvert(c *Context, b transaction.Batch, cs cause.Cause, ctx cause.Context) event.Event {
	switch b.Kind {
	case transaction.KindBlockChange:
		transitions := make([]*event.BlockTransition, 0, len(b.Transactions))
		for _, tx := range b.Transactions {
			original, resulting := tx.(*transaction.BlockChangeTx).Block()
			transitions = append(transitions, &event.BlockTransition{
				Original:  original,
				Final:     resulting,
				Operation: event.OperationOf(original.State, resulting.State),
			})
		}
		return event.NewChangeBlock(cs, ctx, transitions)

	case transaction.KindSpawnEntity:
		entities := make([]ir.EntitySnapshot, 0, len(b.Transactions))
		var spawnType ir.SpawnType
		for _, tx := range b.Transactions {
			sp := tx.(*transaction.SpawnEntityTx)
			entities = append(entities, sp.Entity())
			spawnType = sp.SpawnType()
		}
		return event.NewSpawnEntity(cs, ctx, spawnType, entities)

	case transaction.KindRemoveEntity:
		entities := make([]ir.EntitySnapshot, 0, len(b.Transactions))
		for _, tx := range b.Transactions {
			entities = append(entities, tx.(*transaction.RemoveEntityTx).Entity())
		}
		return event.NewDestructEntity(cs, ctx, entities)

	case transaction.KindSlotChange:
		transitions := make([]*event.SlotTransition, 0, len(b.Transactions))
		for _, tx := range b.Transactions {
			original, resulting := tx.(*transaction.SlotChangeTx).Slot()
			transitions = append(transitions, &event.SlotTransition{Original: original, Final: resulting})
		}
		return event.NewChangeInventory(cs, ctx, transitions)

	case transaction.KindPrepareDrops:
		return nil

	default:
		slog.Warn("no event for transaction kind", "phase", c.Phase().Name(), "kind", b.Kind)
		return nil
	}
}
