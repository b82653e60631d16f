// Package resilience holds the fault-tolerance helpers shared by the
// services: a circuit breaker for remote dependencies, retry with
// exponential backoff, and deadline enforcement for single calls.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the guarded function while the
// breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreakerConfig controls when the breaker trips and how it probes for
// recovery. Zero fields take defaults. OnStateChange runs outside the lock.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int
	OnStateChange       func(name string, to State)
	// IsFailure decides which errors count against the breaker. Nil counts
	// every non-nil error.
	IsFailure func(err error) bool
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = 1
	}
	if c.IsFailure == nil {
		c.IsFailure = func(err error) bool { return err != nil }
	}
	return c
}

// CircuitBreaker opens after FailureThreshold consecutive failures, rejects
// calls for ResetTimeout, then lets up to HalfOpenMaxRequests probes
// through. One successful probe closes it again; a failed probe reopens it.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int
}

func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg.withDefaults(),
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
		now:    time.Now,
	}
}

// Execute runs fn unless the breaker is rejecting calls, and records the
// outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err != nil && cb.cfg.IsFailure(err))
	return err
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker regardless of its history.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	changed := cb.moveTo(StateClosed)
	cb.mu.Unlock()
	cb.logger.Info("circuit reset")
	if changed {
		cb.notify(StateClosed)
	}
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	var err error
	changed := false
	switch cb.state {
	case StateOpen:
		wait := cb.cfg.ResetTimeout - cb.now().Sub(cb.openedAt)
		if wait > 0 {
			err = fmt.Errorf("%w: %s (retry after %v)", ErrCircuitOpen, cb.name, wait)
			break
		}
		changed = cb.moveTo(StateHalfOpen)
		cb.probes = 1
		cb.logger.Info("circuit half-open, probing")
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMaxRequests {
			err = fmt.Errorf("%w: %s (probe in flight)", ErrCircuitOpen, cb.name)
			break
		}
		cb.probes++
	}
	cb.mu.Unlock()
	if changed {
		cb.notify(StateHalfOpen)
	}
	return err
}

func (cb *CircuitBreaker) record(failed bool) {
	cb.mu.Lock()
	changed := false
	switch {
	case !failed:
		cb.failures = 0
		if cb.state == StateHalfOpen {
			changed = cb.moveTo(StateClosed)
			cb.logger.Info("circuit closed")
		}
	case cb.state == StateHalfOpen:
		changed = cb.trip()
		cb.logger.Warn("probe failed, circuit reopened")
	default:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.FailureThreshold {
			changed = cb.trip()
			cb.logger.Warn("circuit opened", "consecutive_failures", cb.failures)
		}
	}
	state := cb.state
	cb.mu.Unlock()
	if changed {
		cb.notify(state)
	}
}

// trip and moveTo require cb.mu.
func (cb *CircuitBreaker) trip() bool {
	cb.openedAt = cb.now()
	return cb.moveTo(StateOpen)
}

func (cb *CircuitBreaker) moveTo(s State) bool {
	if s != StateHalfOpen {
		cb.probes = 0
	}
	if s == StateClosed {
		cb.failures = 0
	}
	if cb.state == s {
		return false
	}
	cb.state = s
	return true
}

func (cb *CircuitBreaker) notify(state State) {
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, state)
	}
}
