package resilience

import (
	"sync"
	"time"

	"github.com/onex/noderuntime/internal/contract"
)

// breakerState is one of the three circuit breaker states.
type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker implements the three-state breaker: Closed passes every
// call through and counts consecutive failures; Open fails fast until
// open_timeout_ms elapses, then admits one probing batch as Half-Open;
// Half-Open closes after success_threshold consecutive successes or
// reopens on the first failure. All transitions are guarded by a single
// mutex — per-node state is uncontended across executors.
type CircuitBreaker struct {
	mu sync.Mutex

	policy contract.CircuitBreakerPolicy

	state             breakerState
	consecutiveFails  int
	consecutiveOK     int
	halfOpenInFlight  int
	lastOpenAt        time.Time
	now               func() time.Time

	onOpen func() // invoked once per closed->open transition, for metrics
}

// NewCircuitBreaker builds a breaker from a contract's CircuitBreakerPolicy.
// onOpen, if non-nil, is called synchronously on every closed->open
// transition so the executor can increment circuit_breaker_opens.
func NewCircuitBreaker(p contract.CircuitBreakerPolicy, onOpen func()) *CircuitBreaker {
	return &CircuitBreaker{policy: p, now: time.Now, onOpen: onOpen}
}

// Allow reports whether a call may proceed, and transitions Open->Half-Open
// when the open timeout has elapsed. The executor calls it once per
// execution, before the retry sequence starts; the retries inside that
// sequence are not admitted again one by one.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateClosed:
		return true
	case stateOpen:
		elapsed := cb.now().Sub(cb.lastOpenAt)
		if elapsed >= time.Duration(cb.policy.OpenTimeoutMS)*time.Millisecond {
			cb.state = stateHalfOpen
			cb.halfOpenInFlight = 0
			cb.consecutiveOK = 0
			return cb.admitHalfOpenLocked()
		}
		return false
	case stateHalfOpen:
		return cb.admitHalfOpenLocked()
	default:
		return false
	}
}

func (cb *CircuitBreaker) admitHalfOpenLocked() bool {
	max := cb.policy.HalfOpenMaxProbes
	if max < 1 {
		max = 1
	}
	if cb.halfOpenInFlight >= max {
		return false
	}
	cb.halfOpenInFlight++
	return true
}

// RecordSuccess reports a successful call outcome.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateClosed:
		cb.consecutiveFails = 0
	case stateHalfOpen:
		if cb.halfOpenInFlight > 0 {
			cb.halfOpenInFlight--
		}
		cb.consecutiveOK++
		threshold := cb.policy.SuccessThreshold
		if threshold < 1 {
			threshold = 1
		}
		if cb.consecutiveOK >= threshold {
			cb.state = stateClosed
			cb.consecutiveFails = 0
			cb.consecutiveOK = 0
			cb.halfOpenInFlight = 0
		}
	}
}

// RecordFailure reports a failed call outcome. Failures classified as
// non-retryable by the caller must never reach this method: only
// handler-reported failures outside the operation's
// non_retryable_error_set count toward failure thresholds.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateClosed:
		cb.consecutiveFails++
		threshold := cb.policy.FailureThreshold
		if threshold < 1 {
			threshold = 1
		}
		if cb.consecutiveFails >= threshold {
			cb.openLocked()
		}
	case stateHalfOpen:
		cb.openLocked()
	}
}

// openLocked transitions to Open. onOpen fires only on a closed->open
// transition — a half-open probe reopening the breaker is a
// continuation of the same outage, not a new one.
func (cb *CircuitBreaker) openLocked() {
	wasClosed := cb.state == stateClosed
	cb.state = stateOpen
	cb.lastOpenAt = cb.now()
	cb.consecutiveFails = 0
	cb.consecutiveOK = 0
	cb.halfOpenInFlight = 0
	if wasClosed && cb.onOpen != nil {
		cb.onOpen()
	}
}

// State reports the breaker's current state name, for HANDLER_FAILURE
// context ({circuit_breaker_state: "open"}) and health reporting.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}
