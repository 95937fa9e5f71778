// Package resilience provides retry, circuit breaker, and oracle failover
// primitives for the pipeline's AI stages.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// keeps the worker pool from hammering an oracle endpoint that has started
// failing. [FallbackGroup] composes a primary oracle with fallbacks behind
// per-entry breakers so a tripped primary is bypassed instead of blocking the
// batch. [Retry] is the bounded exponential-backoff policy for
// transport-level oracle failures.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// open and the reset timeout has not elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is a [CircuitBreaker] operating mode.
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen]. Entered after a
	// failure streak, left once the reset timeout elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. Enough
	// successes close the breaker; a single failure re-opens it.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in log messages.
	Name string

	// MaxFailures is the failure streak length that trips a closed breaker.
	// Default: 5.
	MaxFailures int

	// ResetTimeout is how long a tripped breaker rejects calls before
	// probing again. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax bounds the probe calls allowed while half-open.
	// Default: 3.
	HalfOpenMax int
}

// CircuitBreaker tracks the health of a single oracle backend.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu         sync.Mutex
	state      State
	failStreak int
	lastTrip   time.Time
	probes     int
	probeFails int
}

// NewCircuitBreaker creates a closed [CircuitBreaker]. Zero-value config
// fields take their defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
	}
}

// Execute runs fn if the breaker allows it, recording the outcome. An open
// breaker returns [ErrCircuitOpen] without invoking fn; a half-open breaker
// admits fn only while the probe budget lasts.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastTrip) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.probeFails = 0
		slog.Info("circuit breaker probing", "name", cb.name)

	case StateHalfOpen:
		if cb.probes >= cb.halfOpenMax {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}

	probing := cb.state == StateHalfOpen
	if probing {
		cb.probes++
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	cb.settle(err, probing)
	cb.mu.Unlock()
	return err
}

// settle records a call outcome. Caller holds cb.mu.
func (cb *CircuitBreaker) settle(err error, probing bool) {
	if err == nil {
		if !probing {
			cb.failStreak = 0
			return
		}
		if cb.probes-cb.probeFails >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.failStreak = 0
			cb.probes = 0
			cb.probeFails = 0
			slog.Info("circuit breaker closed", "name", cb.name)
		}
		return
	}

	cb.lastTrip = time.Now()
	if probing {
		// One failed probe re-opens immediately.
		cb.probeFails++
		cb.state = StateOpen
		cb.failStreak = cb.maxFailures
		slog.Warn("circuit breaker re-opened", "name", cb.name)
		return
	}

	cb.failStreak++
	if cb.failStreak >= cb.maxFailures {
		cb.state = StateOpen
		slog.Warn("circuit breaker opened",
			"name", cb.name, "failures", cb.failStreak)
	}
}

// State reports the breaker's mode. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the stored state changes on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastTrip) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failStreak = 0
	cb.probes = 0
	cb.probeFails = 0
}
