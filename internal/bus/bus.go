// Package bus provides the in-process event bus the engine correlates
// against. Delivery within a channel preserves publish order, and
// unsubscribe tokens are idempotent.
package bus

import "sync"

// Handler receives the raw JSON envelope published on a channel.
type Handler func(payload []byte)

type subscription struct {
	channel string
	handler Handler
}

// Bus is an in-process publish/subscribe bus keyed by channel name.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]*subscription
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]*subscription)}
}

// Subscribe registers a handler for a channel and returns an idempotent
// unsubscribe token.
func (b *Bus) Subscribe(channel string, h Handler) func() {
	sub := &subscription{channel: channel, handler: h}

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub) })
	}
}

// Publish delivers the payload to every handler subscribed to the channel,
// synchronously and in subscription order.
func (b *Bus) Publish(channel string, payload []byte) {
	b.mu.Lock()
	subs := make([]*subscription, len(b.subs[channel]))
	copy(subs, b.subs[channel])
	b.mu.Unlock()

	for _, sub := range subs {
		sub.handler(payload)
	}
}

func (b *Bus) remove(target *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[target.channel]
	for i, sub := range subs {
		if sub == target {
			b.subs[target.channel] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}
