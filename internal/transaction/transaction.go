// Package transaction records world mutations as reversible transactions.
//
// A Transaction captures the original state of one location and, for
// state changes, the resulting state. Transactions captured during a phase
// form a Chain: a tree in insertion order where a transaction appended
// while an accepting parent is open becomes its child. Committing a chain
// turns it into events; rolling it back restores every original snapshot
// in strict reverse insertion order.
package transaction

import (
	"github.com/roach88/causeway/internal/cause"
	"github.com/roach88/causeway/internal/ir"
)

// Kind names a transaction variant.
type Kind string

const (
	KindBlockChange  Kind = "block_change"
	KindPrepareDrops Kind = "prepare_drops"
	KindSpawnEntity  Kind = "spawn_entity"
	KindRemoveEntity Kind = "remove_entity"
	KindSlotChange   Kind = "slot_change"
)

// Context keys read or written by transactions and the world.
var (
	// SpawnTypeKey must be present before an entity spawn is captured.
	SpawnTypeKey = cause.NewKey[ir.SpawnType]("spawn_type")
	// PlayerKey names the player behind a packet or click.
	PlayerKey = cause.NewKey[string]("player")
	// ContainerKey names the open container of an inventory click.
	ContainerKey = cause.NewKey[string]("container")
	// ClickedSlotKey is the slot index of an inventory click.
	ClickedSlotKey = cause.NewKey[int]("clicked_slot")
	// PluginKey names the plugin behind a plugin call.
	PluginKey = cause.NewKey[string]("plugin")
)

// Restorer writes a snapshot back to the world without capturing it as a
// new transaction.
type Restorer interface {
	ForceRestore(ir.Snapshot) error
}

// FrameMutator adds cause context for a transaction's event and children.
type FrameMutator func(f *cause.Frame)

// Transaction is one recorded mutation.
type Transaction interface {
	Kind() Kind

	// Target identifies the affected location (the snapshot key).
	Target() string

	// Original is the state before the mutation. It never changes.
	Original() ir.Snapshot

	// Resulting is the state after the mutation. Markers have none.
	Resulting() (ir.Snapshot, bool)

	// AcceptsChildren reports whether transactions appended while this one
	// is open nest under it.
	AcceptsChildren() bool

	// BatchKey groups consecutive siblings into one event.
	BatchKey() string

	// FrameMutator returns the cause context this transaction contributes,
	// or nil. parent is nil for top-level transactions.
	FrameMutator(parent Transaction) FrameMutator

	// Restore writes Original back through r.
	Restore(r Restorer) error

	// Describe adds diagnostic lines to p.
	Describe(p *Printer)
}

// BlockChangeTx records a block replacing another.
type BlockChangeTx struct {
	original  ir.BlockSnapshot
	resulting ir.BlockSnapshot
}

// BlockChange captures a block change at original.Pos.
func BlockChange(original ir.BlockSnapshot, resulting ir.BlockState) *BlockChangeTx {
	return &BlockChangeTx{
		original:  ir.BlockSnapshot{Pos: original.Pos, State: original.State.Clone()},
		resulting: ir.BlockSnapshot{Pos: original.Pos, State: resulting.Clone()},
	}
}

func (t *BlockChangeTx) Kind() Kind { return KindBlockChange }
func (t *BlockChangeTx) Target() string { return t.original.Key() }
func (t *BlockChangeTx) Original() ir.Snapshot { return t.original }
func (t *BlockChangeTx) Resulting() (ir.Snapshot, bool) { return t.resulting, true }
func (t *BlockChangeTx) AcceptsChildren() bool { return true }
func (t *BlockChangeTx) BatchKey() string { return string(KindBlockChange) }
func (t *BlockChangeTx) FrameMutator(Transaction) FrameMutator { return nil }

// Block returns the original and resulting block snapshots.
func (t *BlockChangeTx) Block() (original, resulting ir.BlockSnapshot) {
	return t.original, t.resulting
}

func (t *BlockChangeTx) Restore(r Restorer) error {
	return r.ForceRestore(t.original)
}

func (t *BlockChangeTx) Describe(p *Printer) {
	p.Add("Transaction", "BlockChange").
		Add("Position", t.original.Pos).
		Add("Original", t.original.State).
		Add("Resulting", t.resulting.State)
}

// PrepareDropsTx marks the state of a block about to be destroyed. It has
// no resulting state and never produces an event; its frame mutator pushes
// the original snapshot as a cause so drops spawned beneath it are
// attributed to the block.
type PrepareDropsTx struct {
	original ir.BlockSnapshot
}

// PrepareDrops captures the block at original.Pos before destruction.
func PrepareDrops(original ir.BlockSnapshot) *PrepareDropsTx {
	return &PrepareDropsTx{original: ir.BlockSnapshot{Pos: original.Pos, State: original.State.Clone()}}
}

func (t *PrepareDropsTx) Kind() Kind { return KindPrepareDrops }
func (t *PrepareDropsTx) Target() string { return t.original.Key() }
func (t *PrepareDropsTx) Original() ir.Snapshot { return t.original }
func (t *PrepareDropsTx) Resulting() (ir.Snapshot, bool) { return nil, false }
func (t *PrepareDropsTx) AcceptsChildren() bool { return true }
func (t *PrepareDropsTx) BatchKey() string { return string(KindPrepareDrops) }

func (t *PrepareDropsTx) FrameMutator(Transaction) FrameMutator {
	original := t.original
	return func(f *cause.Frame) { f.PushCause(original) }
}

func (t *PrepareDropsTx) Restore(r Restorer) error {
	return r.ForceRestore(t.original)
}

func (t *PrepareDropsTx) Describe(p *Printer) {
	p.Add("Transaction", "PrepareDrops").
		Add("Original", t.original)
}

// SpawnEntityTx records an entity coming into existence.
type SpawnEntityTx struct {
	entity    ir.EntitySnapshot
	spawnType ir.SpawnType
}

// SpawnEntity captures the spawn of entity for the given reason.
func SpawnEntity(entity ir.EntitySnapshot, spawnType ir.SpawnType) *SpawnEntityTx {
	entity.Data = entity.Data.Clone()
	return &SpawnEntityTx{entity: entity, spawnType: spawnType}
}

func (t *SpawnEntityTx) Kind() Kind { return KindSpawnEntity }
func (t *SpawnEntityTx) Target() string { return t.entity.Key() }
func (t *SpawnEntityTx) Original() ir.Snapshot { return ir.AbsentEntity(t.entity.ID) }
func (t *SpawnEntityTx) Resulting() (ir.Snapshot, bool) { return t.entity, true }
func (t *SpawnEntityTx) AcceptsChildren() bool { return false }
func (t *SpawnEntityTx) BatchKey() string { return string(KindSpawnEntity) + "/" + string(t.spawnType) }

// Entity returns the spawned entity.
func (t *SpawnEntityTx) Entity() ir.EntitySnapshot { return t.entity }

// SpawnType returns the spawn reason.
func (t *SpawnEntityTx) SpawnType() ir.SpawnType { return t.spawnType }

func (t *SpawnEntityTx) FrameMutator(Transaction) FrameMutator {
	spawnType := t.spawnType
	return func(f *cause.Frame) { cause.SetIn(f, SpawnTypeKey, spawnType) }
}

func (t *SpawnEntityTx) Restore(r Restorer) error {
	return r.ForceRestore(ir.AbsentEntity(t.entity.ID))
}

func (t *SpawnEntityTx) Describe(p *Printer) {
	p.Add("Transaction", "SpawnEntity").
		Add("Entity", t.entity).
		Add("SpawnType", t.spawnType)
}

// RemoveEntityTx records an entity being removed from the world.
type RemoveEntityTx struct {
	entity ir.EntitySnapshot
}

// RemoveEntity captures the removal of entity, given its last state.
func RemoveEntity(entity ir.EntitySnapshot) *RemoveEntityTx {
	entity.Data = entity.Data.Clone()
	return &RemoveEntityTx{entity: entity}
}

func (t *RemoveEntityTx) Kind() Kind { return KindRemoveEntity }
func (t *RemoveEntityTx) Target() string { return t.entity.Key() }
func (t *RemoveEntityTx) Original() ir.Snapshot { return t.entity }
func (t *RemoveEntityTx) Resulting() (ir.Snapshot, bool) {
	return ir.AbsentEntity(t.entity.ID), true
}
func (t *RemoveEntityTx) AcceptsChildren() bool { return true }
func (t *RemoveEntityTx) BatchKey() string { return string(KindRemoveEntity) }
func (t *RemoveEntityTx) FrameMutator(Transaction) FrameMutator { return nil }

// Entity returns the removed entity's last state.
func (t *RemoveEntityTx) Entity() ir.EntitySnapshot { return t.entity }

func (t *RemoveEntityTx) Restore(r Restorer) error {
	return r.ForceRestore(t.entity)
}

func (t *RemoveEntityTx) Describe(p *Printer) {
	p.Add("Transaction", "RemoveEntity").
		Add("Entity", t.entity)
}

// SlotChangeTx records an inventory slot changing contents.
type SlotChangeTx struct {
	original  ir.SlotSnapshot
	resulting ir.SlotSnapshot
}

// SlotChange captures the slot at original changing to item.
func SlotChange(original ir.SlotSnapshot, item ir.ItemStack) *SlotChangeTx {
	resulting := original
	resulting.Item = item
	return &SlotChangeTx{original: original, resulting: resulting}
}

func (t *SlotChangeTx) Kind() Kind { return KindSlotChange }
func (t *SlotChangeTx) Target() string { return t.original.Key() }
func (t *SlotChangeTx) Original() ir.Snapshot { return t.original }
func (t *SlotChangeTx) Resulting() (ir.Snapshot, bool) { return t.resulting, true }
func (t *SlotChangeTx) AcceptsChildren() bool { return false }
func (t *SlotChangeTx) BatchKey() string { return string(KindSlotChange) }
func (t *SlotChangeTx) FrameMutator(Transaction) FrameMutator { return nil }

// Slot returns the original and resulting slot snapshots.
func (t *SlotChangeTx) Slot() (original, resulting ir.SlotSnapshot) {
	return t.original, t.resulting
}

func (t *SlotChangeTx) Restore(r Restorer) error {
	return r.ForceRestore(t.original)
}

func (t *SlotChangeTx) Describe(p *Printer) {
	p.Add("Transaction", "SlotChange").
		Add("Slot", t.original.Key()).
		Add("Original", t.original.Item).
		Add("Resulting", t.resulting.Item)
}

// IsMarker reports whether tx only contributes cause context.
func IsMarker(tx Transaction) bool {
	_, ok := tx.Resulting()
	return !ok
}
