package events

import (
	"context"
	"sync"
	"sync/atomic"
)

// busSubscriber holds a buffered channel for one event stream consumer.
type busSubscriber struct {
	ch         chan Event
	callbackID string // empty matches every session
	closeOnce  sync.Once
}

func (s *busSubscriber) close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// Bus fans events out to registered stream consumers (WebSocket clients,
// in-process waiters). It implements Publisher so it can be combined with
// other sinks through MultiPublisher.
//
// Channel-based subscribers keep the bus transport-agnostic and fully
// testable without a real WebSocket.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*busSubscriber]struct{}
	closed  bool
	dropped atomic.Int64
}

// NewBus constructs a ready Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*busSubscriber]struct{})}
}

// Subscribe registers a new consumer. Events are filtered to the given
// callback session; an empty callbackID receives every session's events.
// The returned unsubscribe function must be called when the consumer
// disconnects (it closes the channel).
func (b *Bus) Subscribe(callbackID string) (<-chan Event, func()) {
	s := &busSubscriber{ch: make(chan Event, 256), callbackID: callbackID}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		s.close()
	}
	return s.ch, unsub
}

// Publish delivers an event to all matching subscribers. Slow consumers
// are skipped (their buffer is full) to avoid stalling transfer progress
// forwarding.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	b.deliver(event)
	return nil
}

func (b *Bus) PublishAsync(event Event) {
	b.deliver(event)
}

func (b *Bus) deliver(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		if s.callbackID != "" && s.callbackID != event.SessionID() {
			continue
		}
		select {
		case s.ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Bus) Flush(ctx context.Context) error {
	return nil
}

// Close unregisters all subscribers and closes their channels.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		s.close()
	}
	return nil
}

// Dropped returns the number of events skipped for slow consumers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Len returns the current subscriber count (useful for metrics/tests).
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
