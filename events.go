package main

import (
	"context"
	"sync"

	"i4.energy/across/simnet/modem"
)

// Broadcaster fans the modem event stream out to any number of
// subscribers, such as websocket clients.
type Broadcaster struct {
	pool map[chan modem.Event]struct{}
	sync.RWMutex
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{pool: make(map[chan modem.Event]struct{})}
}

// Run forwards events until ctx ends or events is closed.
func (b *Broadcaster) Run(ctx context.Context, events <-chan modem.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			b.Broadcast(e)
		}
	}
}

// Broadcast sends an event to all subscribers non-blocking.
// If a subscriber's channel is full, the event is skipped for that subscriber.
func (b *Broadcaster) Broadcast(e modem.Event) {
	b.RLock()
	defer b.RUnlock()

	for ch := range b.pool {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe creates a new subscription channel.
// Returns the channel to receive events and a cancel function to unsubscribe.
func (b *Broadcaster) Subscribe(buffer int) (<-chan modem.Event, func()) {
	if buffer <= 0 {
		buffer = 100
	}
	ch := make(chan modem.Event, buffer)

	b.Lock()
	b.pool[ch] = struct{}{}
	b.Unlock()

	return ch, func() {
		b.Lock()
		defer b.Unlock()
		if _, ok := b.pool[ch]; ok {
			delete(b.pool, ch)
			close(ch)
		}
	}
}
