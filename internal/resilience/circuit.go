// Package resilience provides failure isolation for protected upstream calls.
package resilience

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mgrinalds/wayguard/internal/config"
)

type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is the per-service circuit surface used by the executor.
// Allow and the Record methods are split so an upstream result that arrives
// after the caller abandoned the request can still be recorded.
type Breaker interface {
	Allow() bool
	RecordSuccess()
	RecordFailure()
	RecordClientError()
	CancelTrial()
	State() State
	IsOpen() bool
	Stats() BreakerStats
	Reset()
}

// CircuitBreaker implements the circuit breaker pattern for one service.
// In half-open state at most one trial call is in flight; concurrent
// callers during the trial are rejected to the fallback path.
type CircuitBreaker struct {
	service string

	failureThreshold int
	successThreshold int
	recoveryTimeout  time.Duration

	state atomic.Int32

	mu               sync.Mutex
	consecutiveFails int
	consecutiveSuccs int
	trialInFlight    bool
	openedAt         time.Time

	onStateChange func(service string, from, to State)
}

// stateTransition allows callbacks to be invoked outside the mutex to prevent deadlocks.
type stateTransition struct {
	service  string
	from     State
	to       State
	callback func(service string, from, to State)
}

// NewCircuitBreaker creates a circuit breaker for one service.
func NewCircuitBreaker(service string, settings config.BreakerSettings) *CircuitBreaker {
	cb := &CircuitBreaker{
		service:          service,
		failureThreshold: settings.FailureThreshold,
		successThreshold: settings.SuccessThreshold,
		recoveryTimeout:  settings.RecoveryTimeout,
	}

	if cb.failureThreshold <= 0 {
		cb.failureThreshold = 5
	}
	if cb.successThreshold <= 0 {
		cb.successThreshold = 1
	}
	if cb.recoveryTimeout <= 0 {
		cb.recoveryTimeout = 30 * time.Second
	}

	cb.state.Store(int32(StateClosed))

	return cb
}

// Allow checks if a call should be let through to the upstream.
// In open state it arms the half-open trial once the recovery timeout has
// elapsed; the caller that gets true in half-open state IS the trial and
// must record its outcome.
func (cb *CircuitBreaker) Allow() bool {
	state := State(cb.state.Load())

	switch state {
	case StateClosed:
		return true

	case StateOpen:
		var transition *stateTransition
		var allowed bool

		cb.mu.Lock()
		if time.Since(cb.openedAt) >= cb.recoveryTimeout {
			transition = cb.transitionTo(StateHalfOpen)
			cb.trialInFlight = true
			cb.consecutiveSuccs = 0
			allowed = true
		}
		cb.mu.Unlock()

		transition.invoke()
		return allowed

	case StateHalfOpen:
		cb.mu.Lock()
		allowed := !cb.trialInFlight
		if allowed {
			cb.trialInFlight = true
		}
		cb.mu.Unlock()
		return allowed

	default:
		return true
	}
}

// RecordSuccess records a successful upstream call.
func (cb *CircuitBreaker) RecordSuccess() {
	var transition *stateTransition

	cb.mu.Lock()
	switch State(cb.state.Load()) {
	case StateClosed:
		cb.consecutiveFails = 0

	case StateHalfOpen:
		cb.trialInFlight = false
		cb.consecutiveSuccs++
		if cb.consecutiveSuccs >= cb.successThreshold {
			transition = cb.transitionTo(StateClosed)
		}
	}
	cb.mu.Unlock()

	// Invoke callback outside mutex to prevent deadlock
	transition.invoke()
}

// RecordFailure records an infrastructure-level upstream failure.
func (cb *CircuitBreaker) RecordFailure() {
	var transition *stateTransition

	cb.mu.Lock()
	switch State(cb.state.Load()) {
	case StateClosed:
		cb.consecutiveFails++
		if cb.consecutiveFails >= cb.failureThreshold {
			transition = cb.transitionTo(StateOpen)
		}

	case StateHalfOpen:
		cb.trialInFlight = false
		transition = cb.transitionTo(StateOpen)
	}
	cb.mu.Unlock()

	// Invoke callback outside mutex to prevent deadlock
	transition.invoke()
}

// RecordClientError records a client-input failure. The upstream responded,
// so it never advances the failure count; in half-open state it releases
// the trial and counts as proof of reachability.
func (cb *CircuitBreaker) RecordClientError() {
	var transition *stateTransition

	cb.mu.Lock()
	if State(cb.state.Load()) == StateHalfOpen {
		cb.trialInFlight = false
		cb.consecutiveSuccs++
		if cb.consecutiveSuccs >= cb.successThreshold {
			transition = cb.transitionTo(StateClosed)
		}
	}
	cb.mu.Unlock()

	transition.invoke()
}

// CancelTrial returns a half-open trial slot without recording an
// outcome, used when an admitted call never reached the upstream
// (bulkhead rejection, shutdown). Another caller may then take the trial.
func (cb *CircuitBreaker) CancelTrial() {
	cb.mu.Lock()
	if State(cb.state.Load()) == StateHalfOpen {
		cb.trialInFlight = false
	}
	cb.mu.Unlock()
}

// transitionTo changes the circuit breaker state.
// Must be called while holding the mutex. The caller MUST invoke the
// returned transition (if non-nil) AFTER releasing the mutex.
func (cb *CircuitBreaker) transitionTo(newState State) *stateTransition {
	oldState := State(cb.state.Load())
	if oldState == newState {
		return nil
	}

	switch newState {
	case StateClosed:
		cb.consecutiveFails = 0
		cb.consecutiveSuccs = 0
		cb.trialInFlight = false

	case StateOpen:
		cb.openedAt = time.Now()
		cb.consecutiveSuccs = 0

	case StateHalfOpen:
		cb.consecutiveSuccs = 0
	}

	cb.state.Store(int32(newState))

	if cb.onStateChange != nil {
		return &stateTransition{
			service:  cb.service,
			from:     oldState,
			to:       newState,
			callback: cb.onStateChange,
		}
	}
	return nil
}

func (t *stateTransition) invoke() {
	if t != nil && t.callback != nil {
		t.callback(t.service, t.from, t.to)
	}
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() State {
	return State(cb.state.Load())
}

// IsOpen returns true if the circuit is open.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

// SetOnStateChange sets a callback for state changes. The callback is
// invoked synchronously after transitions complete and may safely read
// breaker state; it should be fast (logging, metrics).
func (cb *CircuitBreaker) SetOnStateChange(fn func(service string, from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails = 0
	cb.consecutiveSuccs = 0
	cb.trialInFlight = false
	cb.state.Store(int32(StateClosed))
}

// Stats returns circuit breaker statistics.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return BreakerStats{
		Service:          cb.service,
		State:            cb.State(),
		ConsecutiveFails: cb.consecutiveFails,
		TrialInFlight:    cb.trialInFlight,
		OpenedAt:         cb.openedAt,
	}
}

// BreakerStats contains circuit breaker statistics.
type BreakerStats struct {
	Service          string
	State            State
	ConsecutiveFails int
	TrialInFlight    bool
	OpenedAt         time.Time
}

// DisabledBreaker is a no-op breaker that allows all calls.
type DisabledBreaker struct {
	service string
}

// NewDisabledBreaker creates a disabled breaker.
func NewDisabledBreaker(service string) *DisabledBreaker {
	return &DisabledBreaker{service: service}
}

func (b *DisabledBreaker) Allow() bool        { return true }
func (b *DisabledBreaker) RecordSuccess()     {}
func (b *DisabledBreaker) RecordFailure()     {}
func (b *DisabledBreaker) RecordClientError() {}
func (b *DisabledBreaker) CancelTrial()       {}
func (b *DisabledBreaker) State() State       { return StateClosed }
func (b *DisabledBreaker) IsOpen() bool       { return false }
func (b *DisabledBreaker) Reset()             {}
func (b *DisabledBreaker) Stats() BreakerStats {
	return BreakerStats{Service: b.service, State: StateClosed}
}

var (
	_ Breaker = (*CircuitBreaker)(nil)
	_ Breaker = (*DisabledBreaker)(nil)
)
