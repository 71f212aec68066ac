// Package resilience provides the circuit breaker that guards upstream
// market-data calls.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN" // one probe window after the cooldown
)

// ErrCircuitOpen is returned when the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that close it.
	SuccessThreshold int
	Cooldown         time.Duration

	// IsFailure decides whether an error counts against the upstream. Errors
	// it rejects are returned to the caller but leave the breaker alone, so
	// one bad symbol cannot trip the feed. Nil counts every error.
	IsFailure func(error) bool
	// OnStateChange is called with the breaker's lock released.
	OnStateChange func(name string, from, to CircuitState)
	Now           func() time.Time
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Cooldown:         30 * time.Second,
	}
}

// CircuitBreaker fails fast while an upstream method is known to be down.
type CircuitBreaker struct {
	name string
	cfg  CircuitBreakerConfig

	mu          sync.Mutex
	state       CircuitState
	consecutive int // failures while closed, successes while half-open
	lastFailure time.Time
	changedAt   time.Time
	counts      CircuitBreakerStats
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(error) bool { return true }
	}
	return &CircuitBreaker{
		name:      name,
		cfg:       cfg,
		state:     CircuitClosed,
		changedAt: cfg.Now(),
	}
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeTimeout
	outcomeIgnored
)

// Execute runs fn under cb. A caller whose context ends first gets
// ctx.Err() and the abandoned call counts as a failure.
func Execute[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.admit(); err != nil {
		return zero, err
	}

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		switch {
		case r.err == nil:
			cb.record(outcomeSuccess)
		case cb.cfg.IsFailure(r.err):
			cb.record(outcomeFailure)
		default:
			cb.record(outcomeIgnored)
		}
		if r.err != nil {
			return zero, r.err
		}
		return r.value, nil
	case <-ctx.Done():
		cb.record(outcomeTimeout)
		return zero, ctx.Err()
	}
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	if cb.state == CircuitOpen {
		if cb.cfg.Now().Sub(cb.lastFailure) < cb.cfg.Cooldown {
			cb.counts.TotalRejected++
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		from := cb.setState(CircuitHalfOpen)
		cb.counts.TotalRequests++
		cb.mu.Unlock()
		cb.notify(from, CircuitHalfOpen)
		return nil
	}
	cb.counts.TotalRequests++
	cb.mu.Unlock()
	return nil
}

func (cb *CircuitBreaker) record(o outcome) {
	cb.mu.Lock()
	from, to := cb.state, cb.state

	switch o {
	case outcomeSuccess:
		cb.counts.TotalSuccesses++
		if cb.state == CircuitHalfOpen {
			cb.consecutive++
			if cb.consecutive >= cb.cfg.SuccessThreshold {
				to = CircuitClosed
			}
		} else {
			cb.consecutive = 0
		}
	case outcomeIgnored:
		cb.counts.TotalIgnored++
	case outcomeFailure, outcomeTimeout:
		cb.counts.TotalFailures++
		if o == outcomeTimeout {
			cb.counts.TotalTimeouts++
		}
		cb.lastFailure = cb.cfg.Now()
		if cb.state == CircuitHalfOpen {
			to = CircuitOpen
		} else {
			cb.consecutive++
			if cb.consecutive >= cb.cfg.FailureThreshold {
				to = CircuitOpen
			}
		}
	}

	if to != from {
		cb.setState(to)
	}
	cb.mu.Unlock()

	if to != from {
		cb.notify(from, to)
	}
}

// setState must be called with mu held. It returns the previous state.
func (cb *CircuitBreaker) setState(s CircuitState) CircuitState {
	from := cb.state
	cb.state = s
	cb.consecutive = 0
	cb.changedAt = cb.cfg.Now()
	return from
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats returns a copy of the breaker's counters and state.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := cb.counts
	s.Name = cb.name
	s.State = cb.state
	s.LastFailureTime = cb.lastFailure
	s.LastStateChange = cb.changedAt
	if cb.state == CircuitClosed {
		s.CurrentFailures = cb.consecutive
	}
	return s
}

// Reset closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.setState(CircuitClosed)
	cb.mu.Unlock()
	if from != CircuitClosed {
		cb.notify(from, CircuitClosed)
	}
}

// CircuitBreakerStats is a point-in-time view of one breaker.
type CircuitBreakerStats struct {
	Name            string       `json:"name"`
	State           CircuitState `json:"state"`
	TotalRequests   int64        `json:"totalRequests"`
	TotalSuccesses  int64        `json:"totalSuccesses"`
	TotalFailures   int64        `json:"totalFailures"`
	TotalIgnored    int64        `json:"totalIgnored"`
	TotalRejected   int64        `json:"totalRejected"`
	TotalTimeouts   int64        `json:"totalTimeouts"`
	CurrentFailures int          `json:"currentFailures"`
	LastFailureTime time.Time    `json:"lastFailureTime"`
	LastStateChange time.Time    `json:"lastStateChange"`
}

// FailureRate returns failures as a percentage of admitted requests.
func (s CircuitBreakerStats) FailureRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.TotalFailures) / float64(s.TotalRequests) * 100
}
