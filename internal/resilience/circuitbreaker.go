// Package resilience provides circuit breaker and provider failover
// primitives for the vision path.
//
// The central type is [CircuitBreaker], a three-state breaker
// (closed → open → half-open) that stops a repeatedly failing backend from
// adding its full timeout to every query. [FallbackGroup] composes multiple
// instances of a provider type with per-entry breakers so a failing primary
// is bypassed in favour of healthy fallbacks.
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
// open and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the operating mode of a [CircuitBreaker].
type BreakerState int

const (
	// BreakerClosed forwards all calls.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls immediately with [ErrCircuitOpen] until the
	// reset timeout elapses.
	BreakerOpen

	// BreakerHalfOpen lets a limited number of probe calls through. Probes
	// that succeed close the breaker; a single probe failure re-opens it.
	BreakerHalfOpen
)

// String returns the human-readable name of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [CircuitBreaker].
type BreakerConfig struct {
	// Name labels the breaker in log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 3.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing again.
	// Default: 30s.
	ResetTimeout time.Duration

	// ProbeBudget is the number of probe calls allowed in the half-open state.
	// Default: 2.
	ProbeBudget int
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 3
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.ProbeBudget <= 0 {
		c.ProbeBudget = 2
	}
	return c
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	cfg BreakerConfig

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	probes      int
	probeFails  int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields are
// replaced with defaults.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg.withDefaults(), state: BreakerClosed}
}

// Execute runs fn if the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probing, err := cb.allow()
	if err != nil {
		return err
	}

	callErr := fn()
	cb.record(callErr == nil, probing)
	return callErr
}

// allow decides whether a call may proceed, handling the open→half-open
// transition. It reports whether the call counts against the probe budget.
func (cb *CircuitBreaker) allow() (probing bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerOpen:
		if time.Since(cb.lastFailure) < cb.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = BreakerHalfOpen
		cb.probes = 0
		cb.probeFails = 0
		slog.Info("circuit breaker probing", "name", cb.cfg.Name)

	case BreakerHalfOpen:
		if cb.probes >= cb.cfg.ProbeBudget {
			return false, ErrCircuitOpen
		}
	}

	if cb.state == BreakerHalfOpen {
		cb.probes++
		return true, nil
	}
	return false, nil
}

// record applies the call outcome to the breaker state.
func (cb *CircuitBreaker) record(ok, probing bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !ok {
		cb.lastFailure = time.Now()
		if probing {
			cb.probeFails++
			cb.state = BreakerOpen
			cb.failures = cb.cfg.MaxFailures
			slog.Warn("circuit breaker re-opened after failed probe", "name", cb.cfg.Name)
			return
		}
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures {
			cb.state = BreakerOpen
			slog.Warn("circuit breaker opened",
				"name", cb.cfg.Name, "consecutive_failures", cb.failures)
		}
		return
	}

	if probing {
		if cb.probes-cb.probeFails >= cb.cfg.ProbeBudget {
			cb.state = BreakerClosed
			cb.failures = 0
			cb.probes = 0
			cb.probeFails = 0
			slog.Info("circuit breaker closed after successful probes", "name", cb.cfg.Name)
		}
		return
	}
	cb.failures = 0
}

// State returns the current breaker state. An open breaker whose reset
// timeout has elapsed reports half-open; the actual transition happens on the
// next Execute.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerOpen && time.Since(cb.lastFailure) >= cb.cfg.ResetTimeout {
		return BreakerHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = BreakerClosed
	cb.failures = 0
	cb.probes = 0
	cb.probeFails = 0
	slog.Info("circuit breaker manually reset", "name", cb.cfg.Name)
}
