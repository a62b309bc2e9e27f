package event

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// DefaultBufferSize is the per-subscription channel depth. A subscriber that
// falls this many events behind starts losing events rather than stalling the
// runtime.
const DefaultBufferSize = 64

// Handler consumes events for one subscription. Handlers run on a dedicated
// goroutine per subscription, in emission order; a panicking handler is
// recovered and logged.
type Handler func(Event)

// Subscription is the handle returned by Subscribe, used to unsubscribe.
type Subscription struct {
	sessionID string
	ch        chan Event
	handler   Handler
}

// Bus is the in-process publish/subscribe router, keyed by session id.
// Safe for concurrent Subscribe/Unsubscribe/Publish.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
}

// NewBus creates a Bus with the given per-subscription buffer depth
// (DefaultBufferSize when bufferSize <= 0).
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: bufferSize,
	}
}

// Subscribe registers a handler for one session's events and starts the
// drain goroutine that delivers them in emission order.
func (b *Bus) Subscribe(sessionID string, h Handler) *Subscription {
	sub := &Subscription{
		sessionID: sessionID,
		ch:        make(chan Event, b.buffer),
		handler:   h,
	}

	b.mu.Lock()
	set, ok := b.subs[sessionID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	go sub.drain()
	return sub
}

// Unsubscribe removes the subscription and stops its drain goroutine.
// The session's subscriber set is pruned once empty. Idempotent.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subs[sub.sessionID]
	if !ok {
		return
	}
	if _, member := set[sub]; !member {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sub.sessionID)
	}
	// Safe to close here: Publish sends under RLock, which cannot overlap
	// with this critical section.
	close(sub.ch)
}

// Publish dispatches the event to every subscription currently registered for
// ev.SessionID. Zero subscribers is a no-op (the event log still has the
// event). A subscription whose buffer is full loses this event; delivery to
// the others is unaffected.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[ev.SessionID] {
		select {
		case sub.ch <- ev:
		default:
			log.Warn().
				Str("session_id", ev.SessionID).
				Str("event_type", string(ev.Type)).
				Msg("event_dropped_slow_subscriber")
		}
	}
}

// SubscriberCount returns the number of live subscriptions for a session.
func (b *Bus) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}

func (s *Subscription) drain() {
	for ev := range s.ch {
		s.invoke(ev)
	}
}

// invoke isolates handler panics so one broken subscriber cannot take down
// the bus or its sibling subscribers.
func (s *Subscription) invoke(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("session_id", s.sessionID).
				Str("event_type", string(ev.Type)).
				Interface("panic", r).
				Msg("event_handler_panicked")
		}
	}()
	s.handler(ev)
}
