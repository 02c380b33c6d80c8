package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// SnapshotKind names the world location family a snapshot describes.
type SnapshotKind string

const (
	SnapshotBlock  SnapshotKind = "block"
	SnapshotEntity SnapshotKind = "entity"
	SnapshotSlot   SnapshotKind = "slot"
)

// Snapshot is an immutable capture of one world location.
//
// Implementations are plain values. Key identifies the location (two
// snapshots of the same block share a Key); Value is the canonical form
// used for hashing, equality and the journal.
type Snapshot interface {
	SnapshotKind() SnapshotKind
	Key() string
	Value() IRObject
	String() string
}

// Position is an integer block coordinate.
type Position struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
	Z int64 `json:"z"`
}

// Pos is shorthand for Position{X: x, Y: y, Z: z}.
func Pos(x, y, z int64) Position {
	return Position{X: x, Y: y, Z: z}
}

func (p Position) String() string {
	return fmt.Sprintf("%d,%d,%d", p.X, p.Y, p.Z)
}

// ParsePosition parses the "x,y,z" form produced by Position.String.
func ParsePosition(s string) (Position, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return Position{}, fmt.Errorf("position %q: want x,y,z", s)
	}
	var coords [3]int64
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return Position{}, fmt.Errorf("position %q: %w", s, err)
		}
		coords[i] = n
	}
	return Position{X: coords[0], Y: coords[1], Z: coords[2]}, nil
}

func (p Position) value() IRArray {
	return IRArray{IRInt(p.X), IRInt(p.Y), IRInt(p.Z)}
}

// BlockAir is the type of an empty block.
const BlockAir = "air"

// BlockState is a block type plus its properties.
type BlockState struct {
	Type       string   `json:"type"`
	Properties IRObject `json:"properties,omitempty"`
}

// Block is shorthand for a property-less block state.
func Block(typ string) BlockState {
	return BlockState{Type: typ}
}

// Air is the empty block state.
func Air() BlockState {
	return BlockState{Type: BlockAir}
}

// IsAir reports whether the state is empty. The zero value counts as air.
func (b BlockState) IsAir() bool {
	return b.Type == "" || b.Type == BlockAir
}

// Equal reports whether two states have the same type and properties.
func (b BlockState) Equal(other BlockState) bool {
	if b.IsAir() && other.IsAir() {
		return true
	}
	return b.Type == other.Type && Equal(b.Properties, other.Properties)
}

// Clone returns a copy that shares no maps with b.
func (b BlockState) Clone() BlockState {
	return BlockState{Type: b.Type, Properties: b.Properties.Clone()}
}

func (b BlockState) String() string {
	if len(b.Properties) == 0 {
		return b.Type
	}
	parts := make([]string, 0, len(b.Properties))
	for _, k := range b.Properties.SortedKeys() {
		v, _ := MarshalIRValue(b.Properties[k])
		parts = append(parts, k+"="+string(v))
	}
	return b.Type + "[" + strings.Join(parts, ",") + "]"
}

func (b BlockState) value() IRObject {
	typ := b.Type
	if typ == "" {
		typ = BlockAir
	}
	obj := IRObject{"type": IRString(typ)}
	if len(b.Properties) > 0 {
		obj["properties"] = b.Properties.Clone()
	}
	return obj
}

// BlockSnapshot captures the state of the block at Pos.
type BlockSnapshot struct {
	Pos   Position
	State BlockState
}

func (BlockSnapshot) SnapshotKind() SnapshotKind { return SnapshotBlock }

func (s BlockSnapshot) Key() string { return "block:" + s.Pos.String() }

func (s BlockSnapshot) Value() IRObject {
	return IRObject{
		"kind":  IRString(SnapshotBlock),
		"pos":   s.Pos.value(),
		"state": s.State.value(),
	}
}

func (s BlockSnapshot) String() string {
	return fmt.Sprintf("%s@%s", s.State, s.Pos)
}

// EntitySnapshot captures one entity. Absent marks the state "no such
// entity", which is the original state of a spawn and the resulting state
// of a removal.
type EntitySnapshot struct {
	ID     string
	Type   string
	Pos    Position
	Data   IRObject
	Absent bool
}

// AbsentEntity returns the snapshot of an entity that does not exist.
func AbsentEntity(id string) EntitySnapshot {
	return EntitySnapshot{ID: id, Absent: true}
}

func (EntitySnapshot) SnapshotKind() SnapshotKind { return SnapshotEntity }

func (s EntitySnapshot) Key() string { return "entity:" + s.ID }

func (s EntitySnapshot) Value() IRObject {
	if s.Absent {
		return IRObject{
			"kind":   IRString(SnapshotEntity),
			"id":     IRString(s.ID),
			"absent": IRBool(true),
		}
	}
	obj := IRObject{
		"kind": IRString(SnapshotEntity),
		"id":   IRString(s.ID),
		"type": IRString(s.Type),
		"pos":  s.Pos.value(),
	}
	if len(s.Data) > 0 {
		obj["data"] = s.Data.Clone()
	}
	return obj
}

func (s EntitySnapshot) String() string {
	if s.Absent {
		return fmt.Sprintf("<absent %s>", s.ID)
	}
	return fmt.Sprintf("%s(%s)@%s", s.Type, s.ID, s.Pos)
}

// ItemStack is an item type and count. A zero count is an empty stack.
type ItemStack struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// Items is shorthand for ItemStack{Type: typ, Count: n}.
func Items(typ string, n int64) ItemStack {
	return ItemStack{Type: typ, Count: n}
}

// IsEmpty reports whether the stack holds nothing.
func (s ItemStack) IsEmpty() bool {
	return s.Count <= 0 || s.Type == ""
}

func (s ItemStack) String() string {
	if s.IsEmpty() {
		return "empty"
	}
	return fmt.Sprintf("%dx%s", s.Count, s.Type)
}

func (s ItemStack) value() IRObject {
	if s.IsEmpty() {
		return IRObject{}
	}
	return IRObject{"type": IRString(s.Type), "count": IRInt(s.Count)}
}

// CursorSlot is the slot index of the item held on a player's cursor.
const CursorSlot = -1

// SlotSnapshot captures one inventory slot.
type SlotSnapshot struct {
	Inventory string
	Index     int
	Item      ItemStack
}

func (SlotSnapshot) SnapshotKind() SnapshotKind { return SnapshotSlot }

func (s SlotSnapshot) Key() string {
	if s.Index == CursorSlot {
		return "slot:" + s.Inventory + "#cursor"
	}
	return fmt.Sprintf("slot:%s#%d", s.Inventory, s.Index)
}

func (s SlotSnapshot) Value() IRObject {
	return IRObject{
		"kind":      IRString(SnapshotSlot),
		"inventory": IRString(s.Inventory),
		"index":     IRInt(s.Index),
		"item":      s.Item.value(),
	}
}

func (s SlotSnapshot) String() string {
	return fmt.Sprintf("%s=%s", strings.TrimPrefix(s.Key(), "slot:"), s.Item)
}

// SpawnType records why an entity came into existence.
type SpawnType string

const (
	SpawnPlacement     SpawnType = "placement"
	SpawnBlockBreaking SpawnType = "block_breaking"
	SpawnDroppedItem   SpawnType = "dropped_item"
	SpawnPlugin        SpawnType = "plugin"
	SpawnNatural       SpawnType = "natural"
)

// ValidSpawnTypes lists the accepted spawn types.
var ValidSpawnTypes = map[SpawnType]bool{
	SpawnPlacement:     true,
	SpawnBlockBreaking: true,
	SpawnDroppedItem:   true,
	SpawnPlugin:        true,
	SpawnNatural:       true,
}

// DecodeSnapshot rebuilds a snapshot from its canonical Value form.
func DecodeSnapshot(obj IRObject) (Snapshot, error) {
	kind, _ := obj["kind"].(IRString)
	switch SnapshotKind(kind) {
	case SnapshotBlock:
		pos, err := decodePosition(obj["pos"])
		if err != nil {
			return nil, err
		}
		stateObj, ok := obj["state"].(IRObject)
		if !ok {
			return nil, fmt.Errorf("block snapshot: missing state")
		}
		typ, _ := stateObj["type"].(IRString)
		props, _ := stateObj["properties"].(IRObject)
		return BlockSnapshot{Pos: pos, State: BlockState{Type: string(typ), Properties: props}}, nil

	case SnapshotEntity:
		id, _ := obj["id"].(IRString)
		if absent, _ := obj["absent"].(IRBool); absent {
			return AbsentEntity(string(id)), nil
		}
		pos, err := decodePosition(obj["pos"])
		if err != nil {
			return nil, err
		}
		typ, _ := obj["type"].(IRString)
		data, _ := obj["data"].(IRObject)
		return EntitySnapshot{ID: string(id), Type: string(typ), Pos: pos, Data: data}, nil

	case SnapshotSlot:
		inv, _ := obj["inventory"].(IRString)
		idx, _ := obj["index"].(IRInt)
		item, _ := obj["item"].(IRObject)
		typ, _ := item["type"].(IRString)
		count, _ := item["count"].(IRInt)
		return SlotSnapshot{Inventory: string(inv), Index: int(idx), Item: ItemStack{Type: string(typ), Count: int64(count)}}, nil

	default:
		return nil, fmt.Errorf("unknown snapshot kind %q", kind)
	}
}

func decodePosition(v IRValue) (Position, error) {
	arr, ok := v.(IRArray)
	if !ok || len(arr) != 3 {
		return Position{}, fmt.Errorf("position: want [x,y,z], got %T", v)
	}
	var coords [3]int64
	for i, c := range arr {
		n, ok := c.(IRInt)
		if !ok {
			return Position{}, fmt.Errorf("position[%d]: want int, got %T", i, c)
		}
		coords[i] = int64(n)
	}
	return Position{X: coords[0], Y: coords[1], Z: coords[2]}, nil
}
