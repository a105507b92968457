package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Call while the breaker rejects requests.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	StateClosed   CircuitState = iota // Normal operation
	StateOpen                         // Requests fail immediately
	StateHalfOpen                     // Probing whether the backend recovered
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// Observer receives breaker events, typically to export them as metrics. It is
// called with the breaker lock held and must not call back into the breaker.
type Observer interface {
	StateChanged(name string, from, to CircuitState)
	Failed(name string)
}

// Stats is a snapshot of a breaker's counters since creation or Reset.
type Stats struct {
	State    CircuitState
	Requests int64
	Failures int64
}

// FailureRate is the share of failed requests, in percent.
func (s Stats) FailureRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Requests) * 100
}

// CircuitBreaker guards one backend. After maxFailures consecutive failures it
// opens; once resetTimeout has passed it lets a few probes through and closes
// again when they all succeed.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	probes       int
	observer     Observer

	mu          sync.Mutex
	state       CircuitState
	openedAt    time.Time
	consecutive int
	admitted    int // probes let through while half-open
	succeeded   int // probes that succeeded while half-open
	stats       Stats
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		probes:       3,
	}
}

// Observe installs an observer and returns the breaker.
func (cb *CircuitBreaker) Observe(o Observer) *CircuitBreaker {
	cb.mu.Lock()
	cb.observer = o
	cb.mu.Unlock()
	return cb
}

// Name returns the service name the breaker guards.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Call runs fn unless the breaker is open, and records its outcome.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.RecordResult(err == nil)
	return err
}

// Allow reports whether a request may proceed. Callers that use Allow directly
// must report the outcome with RecordResult.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) < cb.resetTimeout {
			return false
		}
		cb.transition(StateHalfOpen)
		cb.admitted, cb.succeeded = 1, 0
		return true
	case StateHalfOpen:
		if cb.admitted >= cb.probes {
			return false
		}
		cb.admitted++
		return true
	default:
		return true
	}
}

// RecordResult records the outcome of a request.
func (cb *CircuitBreaker) RecordResult(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.stats.Requests++
	if success {
		cb.consecutive = 0
		if cb.state == StateHalfOpen {
			cb.succeeded++
			if cb.succeeded >= cb.probes {
				cb.transition(StateClosed)
			}
		}
		return
	}

	cb.stats.Failures++
	if cb.observer != nil {
		cb.observer.Failed(cb.name)
	}
	switch cb.state {
	case StateClosed:
		cb.consecutive++
		if cb.consecutive >= cb.maxFailures {
			cb.open()
		}
	case StateHalfOpen:
		// a failed probe reopens immediately
		cb.open()
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = time.Now()
	cb.consecutive = 0
	cb.transition(StateOpen)
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if from != to && cb.observer != nil {
		cb.observer.StateChanged(cb.name, from, to)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot of the counters.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s := cb.stats
	s.State = cb.state
	return s
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transition(StateClosed)
	cb.consecutive, cb.admitted, cb.succeeded = 0, 0, 0
	cb.stats = Stats{}
}
