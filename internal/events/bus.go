package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Topic][]chan Message
	dropped atomic.Uint64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]chan Message)}
}

// Subscribe registers a listener for a topic and returns the channel and an
// unsubscribe function. Unsubscribing closes the channel and may be repeated.
func (b *Bus) Subscribe(t Topic, buffer int) (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Message, buffer)
	b.subs[t] = append(b.subs[t], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[t]
			for i, c := range subs {
				if c == ch {
					close(c)
					b.subs[t] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
	return ch, unsub
}

// Publish fans the payload out without blocking; a full subscriber misses it.
func (b *Bus) Publish(t Topic, payload any) {
	msg := Message{Topic: t, Time: time.Now().UTC(), Payload: payload}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[t] {
		select {
		case ch <- msg:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped counts deliveries skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribers returns the number of listeners on t.
func (b *Bus) Subscribers(t Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[t])
}
