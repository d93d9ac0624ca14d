package broadcast

import (
	"sync"

	"realtime-auction/internal/models"

	"go.uber.org/atomic"
)

// DefaultSubscriberBuffer is the per-connection outbound queue size. A
// subscriber whose queue fills is marked lagging and should be disconnected.
const DefaultSubscriberBuffer = 64

// Subscriber is one live connection as seen by the Hub. The Hub writes to
// Channel; the connection's writer drains it.
type Subscriber struct {
	ID      string
	Channel chan models.Envelope

	rooms map[string]struct{} // guarded by Hub.mu

	lagging     atomic.Bool
	laggingCh   chan struct{}
	laggingOnce sync.Once

	done      chan struct{}
	closeOnce sync.Once
}

func newSubscriber(id string, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Subscriber{
		ID:        id,
		Channel:   make(chan models.Envelope, buffer),
		rooms:     make(map[string]struct{}),
		laggingCh: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Done is closed once the subscriber has been disconnected from the Hub
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Lagging is closed when an event had to be dropped because Channel was full
func (s *Subscriber) Lagging() <-chan struct{} {
	return s.laggingCh
}

// IsLagging reports whether any event was dropped for this subscriber
func (s *Subscriber) IsLagging() bool {
	return s.lagging.Load()
}

// markLagging flags the subscriber and reports whether this call tripped it
func (s *Subscriber) markLagging() bool {
	tripped := false
	s.laggingOnce.Do(func() {
		s.lagging.Store(true)
		close(s.laggingCh)
		tripped = true
	})
	return tripped
}

func (s *Subscriber) close() bool {
	closed := false
	s.closeOnce.Do(func() {
		close(s.done)
		closed = true
	})
	return closed
}

type sendResult int

const (
	sendQueued  sendResult = iota
	sendDropped            // queue full, subscriber already lagging
	sendTripped            // queue full, this send marked the subscriber lagging
	sendGone
)

// trySend attempts a non-blocking send. On overflow the event is dropped
// and the subscriber is marked lagging rather than blocking the publisher.
func trySend(sub *Subscriber, env models.Envelope) sendResult {
	select {
	case <-sub.done:
		return sendGone
	default:
	}

	select {
	case sub.Channel <- env:
		return sendQueued
	default:
	}
	if sub.markLagging() {
		return sendTripped
	}
	return sendDropped
}
