package health

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen indicates the breaker is tripped and the call was refused
// without touching the underlying operation.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerState enumerates circuit breaker states.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Breaker is a circuit breaker around a failure-prone dependency. It opens
// after a run of consecutive failures, fails fast while open, and allows a
// single trial call once the recovery timeout has elapsed.
type Breaker struct {
	mu               sync.Mutex
	state            BreakerState
	consecutiveFails int
	failureThreshold int
	recoveryTimeout  time.Duration
	openedAt         time.Time
	trialInFlight    bool
	now              func() time.Time
}

// NewBreaker creates a closed breaker. failureThreshold is the number of
// consecutive failures that trips it; recoveryTimeout is how long it stays
// open before permitting a trial call.
func NewBreaker(failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	return &Breaker{
		state:            BreakerClosed,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		now:              time.Now,
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed. While open it returns
// ErrCircuitOpen until the recovery timeout passes, at which point exactly
// one caller is admitted as the half-open trial.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.recoveryTimeout {
			return ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.trialInFlight = true
		return nil
	case BreakerHalfOpen:
		if b.trialInFlight {
			return ErrCircuitOpen
		}
		b.trialInFlight = true
		return nil
	}
	return nil
}

// RecordSuccess notes a successful call. A half-open trial success closes
// the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFails = 0
	if b.state == BreakerHalfOpen {
		b.state = BreakerClosed
		b.trialInFlight = false
	}
}

// RecordFailure notes a failed call. Reaching the threshold, or failing the
// half-open trial, opens the circuit.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.open()
		return
	}
	b.consecutiveFails++
	if b.state == BreakerClosed && b.consecutiveFails >= b.failureThreshold {
		b.open()
	}
}

func (b *Breaker) open() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.consecutiveFails = 0
	b.trialInFlight = false
}
