package event

import (
	"github.com/roach88/causeway/internal/cause"
	"github.com/roach88/causeway/internal/ir"
)

// SpawnedEntity is one entity reported by a SpawnEntityEvent.
type SpawnedEntity struct {
	Entity   ir.EntitySnapshot
	filtered bool
}

// Valid reports whether the spawn is still accepted.
func (s *SpawnedEntity) Valid() bool { return !s.filtered }

// SpawnEntityEvent reports entities that came into existence.
type SpawnEntityEvent struct {
	Base
	SpawnType ir.SpawnType
	Entities  []*SpawnedEntity
}

// NewSpawnEntity builds the event from spawned entities in capture order.
func NewSpawnEntity(c cause.Cause, ctx cause.Context, spawnType ir.SpawnType, entities []ir.EntitySnapshot) *SpawnEntityEvent {
	list := make([]*SpawnedEntity, len(entities))
	for i, e := range entities {
		list[i] = &SpawnedEntity{Entity: e}
	}
	return &SpawnEntityEvent{Base: NewBase(c, ctx), SpawnType: spawnType, Entities: list}
}

func (*SpawnEntityEvent) Type() string { return TypeSpawnEntity }

// Filter keeps only the entities for which keep returns true.
// Returns the number of entities rejected by this call.
func (e *SpawnEntityEvent) Filter(keep func(ir.EntitySnapshot) bool) int {
	n := 0
	for _, s := range e.Entities {
		if s.Valid() && !keep(s.Entity) {
			s.filtered = true
			n++
		}
	}
	return n
}

// Rejected returns the indexes of filtered entities.
func (e *SpawnEntityEvent) Rejected() []int {
	return rejectedIndexes(len(e.Entities), func(i int) bool { return e.Entities[i].Valid() })
}

func (e *SpawnEntityEvent) Payload() ir.IRObject {
	obj := e.basePayload(TypeSpawnEntity)
	obj["spawn_type"] = ir.IRString(e.SpawnType)
	arr := make(ir.IRArray, len(e.Entities))
	for i, s := range e.Entities {
		arr[i] = ir.IRObject{
			"entity": ir.IRString(s.Entity.String()),
			"valid":  ir.IRBool(s.Valid()),
		}
	}
	obj["entities"] = arr
	return obj
}

// DestructEntityEvent reports entities that were removed.
type DestructEntityEvent struct {
	Base
	Entities []ir.EntitySnapshot
}

// NewDestructEntity builds the event from the removed entities' last state.
func NewDestructEntity(c cause.Cause, ctx cause.Context, entities []ir.EntitySnapshot) *DestructEntityEvent {
	return &DestructEntityEvent{Base: NewBase(c, ctx), Entities: entities}
}

func (*DestructEntityEvent) Type() string { return TypeDestructEntity }

func (e *DestructEntityEvent) Payload() ir.IRObject {
	obj := e.basePayload(TypeDestructEntity)
	arr := make(ir.IRArray, len(e.Entities))
	for i, ent := range e.Entities {
		arr[i] = ir.IRString(ent.String())
	}
	obj["entities"] = arr
	return obj
}
