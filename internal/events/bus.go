// Package events provides the in-process pub/sub bus linking the execution
// core to its outward observers (operator API stream, audit, alerting).
package events

import "sync"

// Event identifies a topic on the bus.
type Event string

const (
	EventOrderSubmitted  Event = "order.submitted"
	EventOrderExecuted   Event = "order.executed"
	EventOrderRejected   Event = "order.rejected"
	EventOrderAmbiguous  Event = "order.ambiguous"
	EventRiskAlert       Event = "risk.alert"
	EventBreakerEngaged  Event = "risk.breaker_engaged"
	EventBreakerCleared  Event = "risk.breaker_cleared"
	EventLinkHealth      Event = "link.health"
	EventLinkStateChange Event = "link.state"
	EventReconReport     Event = "recon.report"
)

// Bus is a lightweight channel-based broker. Publish never blocks: payloads
// to slow subscribers are dropped.
type Bus struct {
	mu   sync.RWMutex
	subs map[Event][]chan any
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan any)}
}

// Subscribe registers a listener for an event and returns the stream plus an
// unsubscribe function that also closes the channel.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[e] = append(b.subs[e], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[e]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[e] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return ch, unsub
}

// Publish fans the payload out to subscribers without blocking.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
		default:
			// drop for slow subscribers; the bus must never stall the hot path
		}
	}
}
