// Package world is the in-memory reference world: blocks, entities and
// inventory slots. Every mutation goes through the phase tracker, which
// captures it as a transaction while a phase is open. ForceRestore is the
// only write path that is never captured; rollback uses it.
//
// A World is owned by one simulation goroutine. The engine package hands
// work from other goroutines to that goroutine.
package world

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/roach88/causeway/internal/cause"
	"github.com/roach88/causeway/internal/ir"
	"github.com/roach88/causeway/internal/phase"
	"github.com/roach88/causeway/internal/transaction"
)

// ErrProtected is returned by ForceRestore for a location marked read-only.
var ErrProtected = errors.New("location is protected")

type slotKey struct {
	inventory string
	index     int
}

// World holds the simulated state and its phase tracker.
type World struct {
	name      string
	tracker   *phase.Tracker
	blocks    map[ir.Position]ir.BlockState
	entities  map[string]ir.EntitySnapshot
	slots     map[slotKey]ir.ItemStack
	protected map[string]bool
	entitySeq int
}

// New creates an empty world. d receives the events of committed phases;
// opts configure the world's tracker.
func New(name string, d phase.Dispatcher, opts ...phase.TrackerOption) *World {
	w := &World{
		name:      name,
		blocks:    make(map[ir.Position]ir.BlockState),
		entities:  make(map[string]ir.EntitySnapshot),
		slots:     make(map[slotKey]ir.ItemStack),
		protected: make(map[string]bool),
	}
	w.tracker = phase.NewTracker(w, d, opts...)
	return w
}

// Name returns the world name.
func (w *World) Name() string { return w.name }

// Tracker returns the world's phase tracker.
func (w *World) Tracker() *phase.Tracker { return w.tracker }

// Block returns the state at pos. Unset positions are air.
func (w *World) Block(pos ir.Position) ir.BlockState {
	if s, ok := w.blocks[pos]; ok {
		return s.Clone()
	}
	return ir.Air()
}

func (w *World) blockSnapshot(pos ir.Position) ir.BlockSnapshot {
	return ir.BlockSnapshot{Pos: pos, State: w.Block(pos)}
}

// SetBlock changes the block at pos and captures the change. It reports
// false, capturing nothing, when the state is unchanged.
func (w *World) SetBlock(pos ir.Position, state ir.BlockState) bool {
	original := w.blockSnapshot(pos)
	if original.State.Equal(state) {
		return false
	}
	w.writeBlock(pos, state)
	w.tracker.Capture(transaction.BlockChange(original, state))
	return true
}

func (w *World) writeBlock(pos ir.Position, state ir.BlockState) {
	if state.IsAir() {
		delete(w.blocks, pos)
		return
	}
	w.blocks[pos] = state.Clone()
}

// BreakBlock replaces the block at pos with air and drops items next to it.
// The removal and the drops are captured as children of a prepare-drops
// marker, so their events carry the broken block as a cause. It reports
// false when pos is already air.
func (w *World) BreakBlock(pos ir.Position, drops ...ir.ItemStack) bool {
	original := w.blockSnapshot(pos)
	if original.State.IsAir() {
		return false
	}

	release, _ := w.tracker.Nest(transaction.PrepareDrops(original))
	defer release()

	w.SetBlock(pos, ir.Air())
	if len(drops) == 0 {
		return true
	}

	frame := w.tracker.Stack().PushFrame()
	defer frame.Close()
	frame.PushCause(original)
	cause.SetIn(frame, transaction.SpawnTypeKey, ir.SpawnBlockBreaking)
	for _, item := range drops {
		if item.IsEmpty() {
			continue
		}
		ent := ir.EntitySnapshot{
			ID:   w.nextEntityID("item"),
			Type: "item",
			Pos:  pos,
			Data: ir.NewIRObject(
				ir.O("item", ir.IRString(item.Type)),
				ir.O("count", ir.IRInt(item.Count)),
			),
		}
		if err := w.SpawnEntity(ent); err != nil {
			slog.Error("drop spawn failed", "world", w.name, "pos", pos.String(), "error", err)
		}
	}
	return true
}

func (w *World) nextEntityID(prefix string) string {
	for {
		w.entitySeq++
		id := prefix + "-" + strconv.Itoa(w.entitySeq)
		if _, taken := w.entities[id]; !taken {
			return id
		}
	}
}

// Entity returns the entity with id.
func (w *World) Entity(id string) (ir.EntitySnapshot, bool) {
	e, ok := w.entities[id]
	if !ok {
		return ir.EntitySnapshot{}, false
	}
	e.Data = e.Data.Clone()
	return e, true
}

// SpawnEntity adds e to the world and captures the spawn. The spawn type
// must be set in the current cause context; a spawn without one panics
// with a missing-context fault. An empty ID is assigned from e.Type.
func (w *World) SpawnEntity(e ir.EntitySnapshot) error {
	spawnType := cause.MustRequire(w.tracker.Stack(), transaction.SpawnTypeKey)
	if e.ID == "" {
		e.ID = w.nextEntityID(e.Type)
	}
	if _, exists := w.entities[e.ID]; exists {
		return fmt.Errorf("spawn %s: entity already exists", e.ID)
	}
	if e.Type == "" {
		return fmt.Errorf("spawn %s: entity type is empty", e.ID)
	}
	e.Absent = false
	e.Data = e.Data.Clone()
	w.entities[e.ID] = e
	w.tracker.Capture(transaction.SpawnEntity(e, spawnType))
	return nil
}

// RemoveEntity removes the entity with id and captures the removal. It
// reports false when no such entity exists.
func (w *World) RemoveEntity(id string) bool {
	e, ok := w.entities[id]
	if !ok {
		return false
	}
	delete(w.entities, id)
	w.tracker.Capture(transaction.RemoveEntity(e))
	return true
}

// Slot returns the slot of inventory at index. Use ir.CursorSlot for the
// cursor of a player inventory.
func (w *World) Slot(inventory string, index int) ir.SlotSnapshot {
	return ir.SlotSnapshot{Inventory: inventory, Index: index, Item: w.slots[slotKey{inventory, index}]}
}

// SetSlot puts item into a slot and captures the change. It reports false
// when the slot already holds item.
func (w *World) SetSlot(inventory string, index int, item ir.ItemStack) bool {
	original := w.Slot(inventory, index)
	if original.Item == item || (original.Item.IsEmpty() && item.IsEmpty()) {
		return false
	}
	w.writeSlot(slotKey{inventory, index}, item)
	w.tracker.Capture(transaction.SlotChange(original, item))
	return true
}

func (w *World) writeSlot(k slotKey, item ir.ItemStack) {
	if item.IsEmpty() {
		delete(w.slots, k)
		return
	}
	w.slots[k] = item
}

// Protect makes ForceRestore fail with ErrProtected for the snapshot key
// (for example "block:0,64,0"). It models a region that cannot be written.
func (w *World) Protect(key string, protected bool) {
	if protected {
		w.protected[key] = true
		return
	}
	delete(w.protected, key)
}

// ForceRestore writes s back without capturing it.
func (w *World) ForceRestore(s ir.Snapshot) error {
	if w.protected[s.Key()] {
		return fmt.Errorf("restore %s: %w", s.Key(), ErrProtected)
	}
	switch v := s.(type) {
	case ir.BlockSnapshot:
		w.writeBlock(v.Pos, v.State)
	case ir.EntitySnapshot:
		if v.Absent {
			delete(w.entities, v.ID)
			return nil
		}
		v.Data = v.Data.Clone()
		w.entities[v.ID] = v
	case ir.SlotSnapshot:
		w.writeSlot(slotKey{v.Inventory, v.Index}, v.Item)
	default:
		return fmt.Errorf("restore %s: unsupported snapshot %T", s.Key(), s)
	}
	return nil
}

// Blocks returns every non-air block, ordered by position.
func (w *World) Blocks() []ir.BlockSnapshot {
	out := make([]ir.BlockSnapshot, 0, len(w.blocks))
	for pos, state := range w.blocks {
		out = append(out, ir.BlockSnapshot{Pos: pos, State: state.Clone()})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Pos, out[j].Pos
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
	return out
}

// Entities returns every entity, ordered by ID.
func (w *World) Entities() []ir.EntitySnapshot {
	out := make([]ir.EntitySnapshot, 0, len(w.entities))
	for _, e := range w.entities {
		e.Data = e.Data.Clone()
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Slots returns every non-empty slot, ordered by inventory then index.
func (w *World) Slots() []ir.SlotSnapshot {
	out := make([]ir.SlotSnapshot, 0, len(w.slots))
	for k, item := range w.slots {
		out = append(out, ir.SlotSnapshot{Inventory: k.inventory, Index: k.index, Item: item})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Inventory != out[j].Inventory {
			return out[i].Inventory < out[j].Inventory
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// State returns every snapshot in the world keyed by snapshot key.
func (w *World) State() ir.IRObject {
	obj := ir.IRObject{}
	for _, b := range w.Blocks() {
		obj[b.Key()] = b.Value()
	}
	for _, e := range w.Entities() {
		obj[e.Key()] = e.Value()
	}
	for _, s := range w.Slots() {
		obj[s.Key()] = s.Value()
	}
	return obj
}
