// Package stream is the in-process push channel between order intake and
// the back-office view sessions. It delivers best-effort: a subscriber
// whose buffer is full misses the event and relies on the poll backstop,
// which is exactly the delivery contract the reconciler is built for.
package stream

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sae-pos/api/internal/model"
)

const subscriberBuffer = 64

// Bus fans new-order events out to per-restaurant subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]map[chan model.Order]struct{}
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uuid.UUID]map[chan model.Order]struct{})}
}

// Subscribe returns a channel of new-order events for one restaurant and a
// cancel function. Cancel is idempotent and closes the channel.
func (b *Bus) Subscribe(scope uuid.UUID) (<-chan model.Order, func()) {
	ch := make(chan model.Order, subscriberBuffer)

	b.mu.Lock()
	if b.subs[scope] == nil {
		b.subs[scope] = make(map[chan model.Order]struct{})
	}
	b.subs[scope][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if set, ok := b.subs[scope]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(b.subs, scope)
				}
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers an order event to every subscriber of its restaurant.
// Slow subscribers are skipped rather than blocked on; the poll cycle
// guarantees they still converge.
func (b *Bus) Publish(o model.Order) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[o.RestaurantID] {
		select {
		case ch <- o:
		default:
		}
	}
}
