package devin

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's observable state.
type BreakerState string

const (
	// BreakerClosed passes calls through and counts consecutive failures.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen short-circuits all calls until the cooldown elapses.
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen allows probe calls after the cooldown; the first
	// recorded outcome decides whether the breaker closes or reopens.
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreaker guards the remote API against hammering a failing service.
// The open→half_open transition is lazy: it happens on the first state read
// after the cooldown, not on a timer.
type CircuitBreaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	state     BreakerState
	openedAt  time.Time

	now func() time.Time // test seam
}

// NewCircuitBreaker creates a closed breaker that opens after threshold
// consecutive failures and probes again after cooldown.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		state:     BreakerClosed,
		now:       time.Now,
	}
}

// State returns the current state, applying the lazy open→half_open
// transition when the cooldown has elapsed.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *CircuitBreaker) stateLocked() BreakerState {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.state = BreakerHalfOpen
	}
	return b.state
}

// Check returns a CircuitOpenError when the breaker is open. Closed and
// half_open both permit the call; half_open calls are the probes.
func (b *CircuitBreaker) Check() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stateLocked() == BreakerOpen {
		return &CircuitOpenError{Cooldown: b.cooldown}
	}
	return nil
}

// RecordSuccess closes the breaker and clears the failure count, regardless
// of the current state.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
}

// RecordFailure increments the consecutive-failure count. Reaching the
// threshold, or failing a half_open probe, opens the breaker.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.stateLocked() == BreakerHalfOpen || b.failures >= b.threshold {
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

// Reset forces the breaker closed with a zero failure count. Used before
// run startup drains so a previously tripped breaker never blocks a fresh
// run.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.openedAt = time.Time{}
}
