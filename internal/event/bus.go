package event

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/causeway/internal/fault"
)

// Priority orders listeners. Lower values run first.
type Priority int

const (
	PriorityFirst   Priority = -200
	PriorityEarly   Priority = -100
	PriorityDefault Priority = 0
	PriorityLate    Priority = 100
	PriorityLast    Priority = 200
)

// AnyType subscribes a listener to every event type.
const AnyType = "*"

// Listener receives dispatched events.
type Listener struct {
	// Name identifies the listener in logs.
	Name string

	// Priority orders listeners; equal priorities run in registration order.
	Priority Priority

	// IgnoreCancelled skips the listener once an earlier one cancelled the event.
	IgnoreCancelled bool

	// Handle is called with the event. It may cancel it or reject entries.
	Handle func(Event)
}

type registration struct {
	Listener
	id  uint64
	typ string
}

// Bus delivers events to listeners.
//
// Subscribe and unsubscribe are safe from any goroutine. Dispatch runs on
// the simulation goroutine and calls listeners synchronously.
type Bus struct {
	mu        sync.RWMutex
	listeners []registration
	nextID    uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers l for events of type typ (or AnyType) and returns a
// function that removes it.
func (b *Bus) Subscribe(typ string, l Listener) (unsubscribe func()) {
	if l.Handle == nil {
		panic(fmt.Sprintf("event: listener %q has no handler", l.Name))
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, registration{Listener: l, id: id, typ: typ})
	slices.SortStableFunc(b.listeners, func(a, c registration) int {
		return int(a.Priority) - int(c.Priority)
	})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.listeners = slices.DeleteFunc(b.listeners, func(r registration) bool { return r.id == id })
	}
}

// Len returns the number of registered listeners.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Dispatch delivers e to matching listeners in priority order and reports
// whether the event ended cancelled. A listener that panics is logged and
// skipped without cancelling the event. Engine faults raised inside a
// listener are re-panicked.
func (b *Bus) Dispatch(e Event) (cancelled bool) {
	b.mu.RLock()
	targets := make([]registration, 0, len(b.listeners))
	for _, r := range b.listeners {
		if r.typ == AnyType || r.typ == e.Type() {
			targets = append(targets, r)
		}
	}
	b.mu.RUnlock()

	for _, r := range targets {
		if r.IgnoreCancelled && e.Cancelled() {
			continue
		}
		b.deliver(r, e)
	}

	if e.Cancelled() {
		slog.Debug("event cancelled", "event", e.Type(), "cause", e.Cause().String())
	}
	return e.Cancelled()
}

func (b *Bus) deliver(r registration, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			if _, ok := fault.As(rec); ok {
				panic(rec)
			}
			slog.Error("event listener panicked",
				"listener", r.Name,
				"event", e.Type(),
				"panic", fmt.Sprint(rec),
			)
		}
	}()
	r.Handle(e)
}
