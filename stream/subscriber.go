package stream

import (
	"sync"
	"sync/atomic"
)

// Subscriber receives events from the topics it is subscribed to.
//
// Delivery is credit-bounded: each send consumes one credit and the
// consumer returns credits as it writes events out. With no credits or a
// full buffer the event is dropped for this subscriber only.
type Subscriber struct {
	id string
	ch chan *Event

	credits atomic.Int64
	dropped atomic.Int64
	// lag counts consecutive drops; reset on every successful send.
	lag atomic.Int64

	mu     sync.RWMutex
	topics map[string]struct{}

	closeOnce sync.Once
	closed    atomic.Bool
	// sendMu orders sends against Close.
	sendMu sync.RWMutex
}

// NewSubscriber creates a subscriber with the given buffer size
// and initial credits.
func NewSubscriber(subscriberID string, bufferSize int, initialCredits int64) *Subscriber {
	s := &Subscriber{
		id:     subscriberID,
		ch:     make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
	s.credits.Store(initialCredits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only event channel. It is closed when the
// subscriber is removed.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// AddCredits replenishes flow-control credits.
func (s *Subscriber) AddCredits(n int64) { s.credits.Add(n) }

// Credits returns the current credit count.
func (s *Subscriber) Credits() int64 { return s.credits.Load() }

// Dropped returns the number of events dropped for this subscriber.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// Lag returns the current run of consecutive drops.
func (s *Subscriber) Lag() int64 { return s.lag.Load() }

// Closed reports whether the subscriber has been closed.
func (s *Subscriber) Closed() bool { return s.closed.Load() }

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// Topics returns a copy of all subscribed topic names.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// send attempts a non-blocking delivery. Returns false when the event was
// dropped.
func (s *Subscriber) send(evt *Event) bool {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed.Load() {
		return false
	}

	for {
		current := s.credits.Load()
		if current <= 0 {
			s.drop()
			return false
		}
		if s.credits.CompareAndSwap(current, current-1) {
			break
		}
	}

	select {
	case s.ch <- evt:
		s.lag.Store(0)
		return true
	default:
		s.credits.Add(1)
		s.drop()
		return false
	}
}

func (s *Subscriber) drop() {
	s.dropped.Add(1)
	s.lag.Add(1)
}

// Close closes the subscriber channel. Safe to call multiple times.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.sendMu.Lock()
		s.closed.Store(true)
		close(s.ch)
		s.sendMu.Unlock()
	})
}
