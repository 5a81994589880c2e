package events

import (
	"context"
	"log"
	"sync"
)

const subscriberBuffer = 64

// Hub fans events out to in-process subscribers such as websocket clients.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe returns a buffered channel of events and a function that
// unsubscribes and closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers to every subscriber with room in its buffer; a full
// subscriber misses the event.
func (h *Hub) Publish(_ context.Context, event Event) {
	event = Stamp(event)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			log.Printf("[events] subscriber %d is slow, dropped %s", id, event.Type)
		}
	}
}

// Subscribers reports the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
