// Package bus provides the in-process publish/subscribe channel that
// carries all state-change events between the runtime's components.
// Collaborators subscribe explicitly at construction; there is no
// ambient global dispatch.
package bus

import (
	"strings"
	"sync"
	"time"
)

// Bus fans events out to subscribers filtered by kind prefix.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	prefix string
	ch     chan Event
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish sends an event to every subscriber whose prefix matches
// event.Kind. Delivery is non-blocking; a subscriber with a full
// buffer misses the event rather than stalling the publisher.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(string(evt.Kind), sub.prefix) {
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
}

// Emit is shorthand for publishing a kind/payload pair stamped now.
func (b *Bus) Emit(kind Kind, payload any) {
	b.Publish(Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// Subscribe returns a channel receiving events whose kind starts with
// prefix, plus an unsubscribe function. bufSize controls the channel
// buffer. Unsubscribing closes the channel, so consumers ranging over
// it terminate; calling the function more than once is safe.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
}
