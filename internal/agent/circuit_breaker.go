package agent

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the circuit breaker state.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal: tool calls flow through
	CircuitOpen                         // Tripped: tool calls denied immediately
	CircuitHalfOpen                     // Probe: one call allowed to test recovery
)

// CircuitBreaker tracks authorization denial counts per actor and opens the
// circuit when repeated denials exceed the threshold within a window. Only
// authorization denials (not tool execution failures) feed the breaker; an
// actor whose steps keep getting denied is probing the gate.
type CircuitBreaker struct {
	mu        sync.Mutex
	actors    map[string]*actorCircuit
	threshold int
	window    time.Duration
}

type actorCircuit struct {
	denials       []time.Time
	state         CircuitState
	openedAt      time.Time
	windowSize    time.Duration
	probeInFlight bool // when half-open, one call is allowed until RecordSuccess/RecordDenial
}

// NewCircuitBreaker creates a circuit breaker with the given threshold and
// window. threshold <= 0 defaults to 5; window <= 0 defaults to 60s.
func NewCircuitBreaker(threshold int, window time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	return &CircuitBreaker{
		actors:    make(map[string]*actorCircuit),
		threshold: threshold,
		window:    window,
	}
}

// Check returns nil if the actor may proceed, or an error if the circuit is
// open. In half-open state, allows one probe call.
func (cb *CircuitBreaker) Check(actorID string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	ac, ok := cb.actors[actorID]
	if !ok {
		return nil
	}

	switch ac.state {
	case CircuitOpen:
		if time.Since(ac.openedAt) > ac.windowSize {
			ac.state = CircuitHalfOpen
			ac.probeInFlight = true // this call is the single allowed probe
			return nil
		}
		return fmt.Errorf("circuit_open: actor %s suspended after repeated authorization denials", actorID)
	case CircuitHalfOpen:
		if ac.probeInFlight {
			return fmt.Errorf("circuit_half_open: probe already in progress for actor %s", actorID)
		}
		ac.probeInFlight = true
		return nil
	}
	return nil
}

// RecordDenial records an authorization denial for the actor. If the
// threshold is exceeded within the window, the circuit opens. In half-open
// state a single denial (failed probe) reopens the circuit immediately.
func (cb *CircuitBreaker) RecordDenial(actorID string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	ac, ok := cb.actors[actorID]
	if !ok {
		ac = &actorCircuit{windowSize: cb.window}
		cb.actors[actorID] = ac
	}

	now := time.Now()

	if ac.state == CircuitHalfOpen {
		ac.state = CircuitOpen
		ac.openedAt = now
		ac.probeInFlight = false
		return
	}

	cutoff := now.Add(-cb.window)
	ac.denials = append(ac.denials[:0], filterAfter(ac.denials, cutoff)...)
	ac.denials = append(ac.denials, now)

	if len(ac.denials) >= cb.threshold {
		ac.state = CircuitOpen
		ac.openedAt = now
	}
}

// RecordSuccess records a successful authorization. If the circuit is
// half-open, this closes it (the probe succeeded).
func (cb *CircuitBreaker) RecordSuccess(actorID string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	ac, ok := cb.actors[actorID]
	if !ok {
		return
	}

	if ac.state == CircuitHalfOpen {
		ac.state = CircuitClosed
		ac.denials = nil
		ac.probeInFlight = false
	}
}

// Reset manually resets the circuit for an actor (operator override).
func (cb *CircuitBreaker) Reset(actorID string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.actors, actorID)
}

// State returns the current circuit state for an actor.
func (cb *CircuitBreaker) State(actorID string) CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	ac, ok := cb.actors[actorID]
	if !ok {
		return CircuitClosed
	}
	return ac.state
}

func filterAfter(times []time.Time, cutoff time.Time) []time.Time {
	var result []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			result = append(result, t)
		}
	}
	return result
}
