package harness

import (
	"github.com/roach88/causeway/internal/cause"
	"github.com/roach88/causeway/internal/event"
	"github.com/roach88/causeway/internal/ir"
	"github.com/roach88/causeway/internal/phase"
)

// Subscribe registers scenario listeners on bus in order.
func Subscribe(bus *event.Bus, specs []ListenerSpec) {
	for _, spec := range specs {
		typ := spec.Event
		if typ == "" {
			typ = event.AnyType
		}
		bus.Subscribe(typ, event.Listener{
			Name:            spec.Name,
			Priority:        event.Priority(spec.Priority),
			IgnoreCancelled: spec.IgnoreCancelled,
			Handle:          spec.handle,
		})
	}
}

func (l ListenerSpec) handle(e event.Event) {
	if l.Phase != "" && phaseOf(e) != l.Phase {
		return
	}
	if l.Block != "" && !changesTo(e, l.Block) {
		return
	}
	if l.Panic != "" {
		panic(l.Panic)
	}

	if l.Invalidate != "" {
		if cb, ok := e.(*event.ChangeBlockEvent); ok {
			cb.InvalidateWhere(func(t *event.BlockTransition) bool {
				return t.Final.State.Type == l.Invalidate
			})
		}
	}
	if l.Filter != "" {
		if se, ok := e.(*event.SpawnEntityEvent); ok {
			se.Filter(func(ent ir.EntitySnapshot) bool {
				return ent.Type != l.Filter
			})
		}
	}
	if l.Cancel {
		e.SetCancelled(true)
	}
}

// phaseOf returns the name of the innermost phase in the event's cause.
func phaseOf(e event.Event) string {
	src, ok := cause.NearestOf[phase.Source](e.Cause())
	if !ok {
		return ""
	}
	return src.Phase
}

func changesTo(e event.Event, blockType string) bool {
	cb, ok := e.(*event.ChangeBlockEvent)
	if !ok {
		return false
	}
	for _, t := range cb.Transitions {
		if t.Final.State.Type == blockType {
			return true
		}
	}
	return false
}
