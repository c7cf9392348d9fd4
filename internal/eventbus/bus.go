// Package eventbus provides a small typed publish/subscribe hub used by the
// diagnostic engine to broadcast run lifecycle and retry events. Payloads
// are a closed set of typed event structs rather than loose maps; the event
// name doubles as the subscription topic.
package eventbus

import "sync"

// Event is implemented by every payload published on the bus.
type Event interface {
	EventName() string
}

// Handler consumes a published event. Handlers run synchronously on the
// emitting goroutine; a handler that needs to block should hand off to its
// own goroutine.
type Handler func(Event)

// Bus is a thread-safe publish/subscribe hub.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]Handler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[string]map[int]Handler)}
}

// On subscribes handler to events with the given name and returns an
// unsubscribe function. Unsubscribing twice is harmless.
func (b *Bus) On(name string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	set, ok := b.handlers[name]
	if !ok {
		set = make(map[int]Handler)
		b.handlers[name] = set
	}
	set[id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.handlers[name]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(b.handlers, name)
			}
		}
	}
}

// Emit delivers event to every handler subscribed to its name. The handler
// set is copied under the read lock so handlers may subscribe or
// unsubscribe from within a callback without deadlocking.
func (b *Bus) Emit(event Event) {
	b.mu.RLock()
	set := b.handlers[event.EventName()]
	snapshot := make([]Handler, 0, len(set))
	for _, h := range set {
		snapshot = append(snapshot, h)
	}
	b.mu.RUnlock()

	for _, h := range snapshot {
		h(event)
	}
}

// HandlerCount returns the number of handlers subscribed to name.
func (b *Bus) HandlerCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}
