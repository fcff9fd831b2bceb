package telemetry

import (
	"sync"
	"time"
)

// Kind labels a discrete telemetry event.
type Kind string

const (
	KindPhaseChanged  Kind = "phase_changed"
	KindTickReceived  Kind = "tick_received"
	KindAlertDecision Kind = "alert_decision"
	KindBootstrap     Kind = "bootstrap"
	KindReconnect     Kind = "reconnect_scheduled"
	KindStale         Kind = "stale_detected"
)

// Event is a single observable occurrence emitted by the feed or evaluator.
type Event struct {
	At         time.Time
	Kind       Kind
	Instrument string
	Message    string
}

// Sink buffers events in a bounded ring. Delivery to subscribers is
// best-effort and ordered; when the ring is full the oldest event is evicted.
type Sink struct {
	mu        sync.Mutex
	ring      []Event
	start     int
	count     int
	listeners []func(Event)
}

// NewSink creates a sink holding at most capacity events.
func NewSink(capacity int) *Sink {
	if capacity <= 0 {
		capacity = 400
	}
	return &Sink{ring: make([]Event, capacity)}
}

// Publish appends an event, evicting the oldest when full.
func (s *Sink) Publish(ev Event) {
	s.mu.Lock()
	if s.count == len(s.ring) {
		s.start = (s.start + 1) % len(s.ring)
		s.count--
	}
	s.ring[(s.start+s.count)%len(s.ring)] = ev
	s.count++
	listeners := s.listeners
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// Subscribe registers a listener invoked for every event published after
// registration. Listeners must not block.
func (s *Sink) Subscribe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Snapshot returns the buffered events, oldest first.
func (s *Sink) Snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, 0, s.count)
	for i := 0; i < s.count; i++ {
		out = append(out, s.ring[(s.start+i)%len(s.ring)])
	}
	return out
}

// Len reports how many events are currently buffered.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
