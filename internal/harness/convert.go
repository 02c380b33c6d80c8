package harness

import (
	"fmt"
	"sort"

	"github.com/roach88/causeway/internal/cause"
	"github.com/roach88/causeway/internal/ir"
	"github.com/roach88/causeway/internal/phase"
	"github.com/roach88/causeway/internal/transaction"
)

const contextSpawnType = "spawn_type"

// contextOptions converts a step's YAML context into phase options.
// The well-known keys get their typed key; any other key is set with the
// type YAML decoded (string, int64 or bool). Keys are applied in sorted
// order so the phase context is built the same way every run.
func contextOptions(values map[string]any) ([]phase.Option, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	opts := make([]phase.Option, 0, len(keys))
	for _, k := range keys {
		opt, err := contextOption(k, values[k])
		if err != nil {
			return nil, fmt.Errorf("context %q: %w", k, err)
		}
		opts = append(opts, opt)
	}
	return opts, nil
}

func contextOption(name string, v any) (phase.Option, error) {
	switch name {
	case transaction.PlayerKey.Name():
		s, err := asString(v)
		return phase.With(transaction.PlayerKey, s), err
	case transaction.ContainerKey.Name():
		s, err := asString(v)
		return phase.With(transaction.ContainerKey, s), err
	case transaction.PluginKey.Name():
		s, err := asString(v)
		return phase.With(transaction.PluginKey, s), err
	case transaction.ClickedSlotKey.Name():
		n, ok := v.(int)
		if !ok {
			return nil, fmt.Errorf("want an integer, got %T", v)
		}
		return phase.With(transaction.ClickedSlotKey, n), nil
	case contextSpawnType:
		s, err := asString(v)
		if err != nil {
			return nil, err
		}
		st := ir.SpawnType(s)
		if !ir.ValidSpawnTypes[st] {
			return nil, fmt.Errorf("unknown spawn type %q", s)
		}
		return phase.With(transaction.SpawnTypeKey, st), nil
	}

	switch val := v.(type) {
	case string:
		return phase.With(cause.NewKey[string](name), val), nil
	case int:
		return phase.With(cause.NewKey[int64](name), int64(val)), nil
	case bool:
		return phase.With(cause.NewKey[bool](name), val), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("want a string, got %T", v)
	}
	return s, nil
}

// blockState converts a set_block action into a block state.
func blockState(a *BlockAction) (ir.BlockState, error) {
	state := ir.Block(a.Block)
	if len(a.Properties) > 0 {
		props, err := ir.ObjectFromMap(a.Properties)
		if err != nil {
			return ir.BlockState{}, fmt.Errorf("properties: %w", err)
		}
		state.Properties = props
	}
	return state, nil
}

// entity converts a spawn action into an entity snapshot.
func entity(a *SpawnAction) (ir.EntitySnapshot, error) {
	pos, err := ir.ParsePosition(a.Pos)
	if err != nil {
		return ir.EntitySnapshot{}, err
	}
	ent := ir.EntitySnapshot{ID: a.ID, Type: a.Type, Pos: pos}
	if len(a.Data) > 0 {
		data, err := ir.ObjectFromMap(a.Data)
		if err != nil {
			return ir.EntitySnapshot{}, fmt.Errorf("data: %w", err)
		}
		ent.Data = data
	}
	return ent, nil
}

func items(specs []ItemSpec) []ir.ItemStack {
	out := make([]ir.ItemStack, len(specs))
	for i, s := range specs {
		out[i] = ir.Items(s.Type, s.Count)
	}
	return out
}

func slotIndex(a *SlotAction) int {
	if a.Cursor {
		return ir.CursorSlot
	}
	return a.Index
}
