// Package governance implements the overload detector that feeds the
// contraflow circuit-breaker protocol: it watches sink delivery
// outcomes and decides when a pipeline should ask its sources to stop
// admitting events.
package governance

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is in the open
// state.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the state of a circuit breaker.
type State string

const (
	// StateClosed indicates deliveries are flowing normally.
	StateClosed State = "closed"
	// StateOpen indicates deliveries are failing and upstream admission
	// should stop.
	StateOpen State = "open"
	// StateHalfOpen indicates the breaker is probing whether the sink
	// has recovered.
	StateHalfOpen State = "half-open"
)

// Config defines the thresholds for circuit breaking.
type Config struct {
	// MaxFailures is the consecutive delivery failure count that opens
	// the circuit.
	MaxFailures int
	// Timeout is how long the circuit stays open before transitioning
	// to half-open.
	Timeout time.Duration
	// MaxHalfOpenProbes is the number of consecutive successful
	// deliveries in half-open state required to close the circuit
	// again.
	MaxHalfOpenProbes int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxFailures:       5,
		Timeout:           30 * time.Second,
		MaxHalfOpenProbes: 3,
	}
}

// CircuitBreaker tracks delivery outcomes for one pipeline. It is the
// detector side of the protocol only: propagating the resulting
// open/close signals through the graph is the engine's job.
type CircuitBreaker struct {
	mu     sync.RWMutex
	state  State
	config Config

	consecutiveFailures  int
	consecutiveSuccesses int
	lastStateChange      time.Time
	openUntil            time.Time

	totalFailures  int
	totalSuccesses int
}

// New creates a circuit breaker with the provided configuration,
// clamping nonsensical values to the defaults.
func New(config Config) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxHalfOpenProbes <= 0 {
		config.MaxHalfOpenProbes = 3
	}
	return &CircuitBreaker{
		state:           StateClosed,
		config:          config,
		lastStateChange: time.Now(),
	}
}

// Record feeds one delivery outcome into the breaker and returns the
// state after the update. An open→half-open transition happens lazily
// here once the open timeout has elapsed.
func (cb *CircuitBreaker) Record(err error) State {
	now := time.Now()
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && now.After(cb.openUntil) {
		cb.transitionLocked(StateHalfOpen, now)
	}

	if err == nil {
		cb.totalSuccesses++
		cb.consecutiveSuccesses++
		cb.consecutiveFailures = 0
	} else {
		cb.totalFailures++
		cb.consecutiveFailures++
		cb.consecutiveSuccesses = 0
	}

	switch cb.state {
	case StateClosed:
		if err != nil && cb.consecutiveFailures >= cb.config.MaxFailures {
			cb.transitionLocked(StateOpen, now)
		}
	case StateHalfOpen:
		if err != nil {
			cb.transitionLocked(StateOpen, now)
		} else if cb.consecutiveSuccesses >= cb.config.MaxHalfOpenProbes {
			cb.transitionLocked(StateClosed, now)
		}
	}
	return cb.state
}

// State returns the current state, applying the lazy open→half-open
// transition so idle pipelines still recover.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Now().After(cb.openUntil) {
		cb.transitionLocked(StateHalfOpen, time.Now())
	}
	return cb.state
}

// Reset manually closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateClosed, time.Now())
	cb.totalFailures = 0
	cb.totalSuccesses = 0
}

// Stats exposes breaker status for diagnostics endpoints.
type Stats struct {
	State           string `json:"state"`
	Failures        int    `json:"failures"`
	Successes       int    `json:"successes"`
	LastStateChange string `json:"lastStateChange"`
}

// Stats returns current statistics.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return Stats{
		State:           string(cb.state),
		Failures:        cb.totalFailures,
		Successes:       cb.totalSuccesses,
		LastStateChange: cb.lastStateChange.Format(time.RFC3339),
	}
}

func (cb *CircuitBreaker) transitionLocked(next State, now time.Time) {
	if cb.state == next {
		return
	}
	cb.state = next
	cb.lastStateChange = now
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	if next == StateOpen {
		cb.openUntil = now.Add(cb.config.Timeout)
	} else {
		cb.openUntil = time.Time{}
	}
}
