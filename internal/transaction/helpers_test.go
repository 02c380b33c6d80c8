package transaction

import (
	"errors"

	"github.com/roach88/causeway/internal/cause"
	"github.com/roach88/causeway/internal/event"
	"github.com/roach88/causeway/internal/ir"
)

// memStore is a Restorer over a map of snapshot keys. It records the order
// of forced restores and can be told to fail for specific keys.
type memStore struct {
	state    map[string]ir.Snapshot
	restores []string
	failing  map[string]bool
	panics   map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		state:   make(map[string]ir.Snapshot),
		failing: make(map[string]bool),
		panics:  make(map[string]bool),
	}
}

func (m *memStore) ForceRestore(s ir.Snapshot) error {
	if m.panics[s.Key()] {
		panic("backing store exploded")
	}
	if m.failing[s.Key()] {
		return errors.New("chunk unloaded")
	}
	m.restores = append(m.restores, s.Key())
	m.state[s.Key()] = s
	return nil
}

// setBlock mutates the store and returns the captured transaction, the way
// a tracked world write would.
func (m *memStore) setBlock(pos ir.Position, state ir.BlockState) *BlockChangeTx {
	key := ir.BlockSnapshot{Pos: pos}.Key()
	original := ir.BlockSnapshot{Pos: pos, State: ir.Air()}
	if prev, ok := m.state[key]; ok {
		original = prev.(ir.BlockSnapshot)
	}
	tx := BlockChange(original, state)
	resulting, _ := tx.Resulting()
	m.state[key] = resulting
	return tx
}

func (m *memStore) block(pos ir.Position) ir.BlockState {
	if s, ok := m.state[ir.BlockSnapshot{Pos: pos}.Key()]; ok {
		return s.(ir.BlockSnapshot).State
	}
	return ir.Air()
}

// recordingSink converts batches into minimal events and lets tests decide
// per event whether to cancel or reject entries.
type recordingSink struct {
	batches  []Batch
	causes   []cause.Cause
	contexts []cause.Context
	decide   func(n int, e event.Event)
}

func (s *recordingSink) Convert(b Batch, c cause.Cause, ctx cause.Context) event.Event {
	s.batches = append(s.batches, b)
	s.causes = append(s.causes, c)
	s.contexts = append(s.contexts, ctx)

	switch b.Kind {
	case KindBlockChange:
		transitions := make([]*event.BlockTransition, len(b.Transactions))
		for i, tx := range b.Transactions {
			o, r := tx.(*BlockChangeTx).Block()
			transitions[i] = &event.BlockTransition{Original: o, Final: r, Operation: event.OperationOf(o.State, r.State)}
		}
		return event.NewChangeBlock(c, ctx, transitions)
	case KindSpawnEntity:
		entities := make([]ir.EntitySnapshot, len(b.Transactions))
		for i, tx := range b.Transactions {
			entities[i] = tx.(*SpawnEntityTx).Entity()
		}
		st, _ := cause.Value(ctx, SpawnTypeKey)
		return event.NewSpawnEntity(c, ctx, st, entities)
	case KindRemoveEntity:
		entities := make([]ir.EntitySnapshot, len(b.Transactions))
		for i, tx := range b.Transactions {
			entities[i] = tx.(*RemoveEntityTx).Entity()
		}
		return event.NewDestructEntity(c, ctx, entities)
	}
	return nil
}

func (s *recordingSink) Dispatch(e event.Event) bool {
	if s.decide != nil {
		s.decide(len(s.batches)-1, e)
	}
	return e.Cancelled()
}
