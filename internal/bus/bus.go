// Package bus is the in-process notification hub used by watch mode. It is
// unrelated to the team bus file: nothing published here is persisted.
package bus

import (
	"strings"
	"sync"
)

const defaultBufferSize = 100

// Event is a message published on the hub.
type Event struct {
	Topic   string
	Payload any
}

// Subscription represents an active subscription.
type Subscription struct {
	id     int
	prefix string
	ch     chan Event
}

// Ch returns the channel to receive events on. It is closed by Unsubscribe
// or Close.
func (s *Subscription) Ch() <-chan Event {
	return s.ch
}

// Bus fans events out to subscribers by topic prefix.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
	closed bool
}

func New() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Subscribe registers for topics starting with prefix; "" matches all.
// Each subscription buffers 100 events and a slow consumer misses events
// rather than stalling publishers.
func (b *Bus) Subscribe(prefix string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		prefix: prefix,
		ch:     make(chan Event, defaultBufferSize),
	}
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish delivers to every matching subscriber without blocking and
// returns how many received it.
func (b *Bus) Publish(topic string, payload any) int {
	ev := Event{Topic: topic, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, sub := range b.subs {
		if sub.prefix != "" && !strings.HasPrefix(topic, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- ev:
			delivered++
		default:
		}
	}
	return delivered
}

// Close unsubscribes everyone. Later subscriptions get a closed channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
	b.closed = true
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
