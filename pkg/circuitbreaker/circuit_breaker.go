// Package circuitbreaker guards calls to an external dependency. After a
// run of counted failures the breaker opens and rejects calls outright;
// once the cooldown passes it lets a few probes through and closes again
// when they succeed.
package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

const defaultProbeQuota = 3

// Option tweaks a breaker at construction.
type Option func(*CircuitBreaker)

// WithLogger replaces the default logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(cb *CircuitBreaker) {
		if logger != nil {
			cb.logger = logger
		}
	}
}

// WithFailureFilter keeps errors the predicate rejects from counting
// toward the trip threshold. A rejected error still returns to the caller;
// it just reads as "the dependency answered", which for a provider API is
// what a 4xx rejection means.
func WithFailureFilter(countable func(error) bool) Option {
	return func(cb *CircuitBreaker) {
		if countable != nil {
			cb.countable = countable
		}
	}
}

// CircuitBreaker tracks consecutive counted failures against one named
// dependency. Safe for concurrent use.
type CircuitBreaker struct {
	name        string
	maxFailures uint32
	cooldown    time.Duration
	probeQuota  uint32
	countable   func(error) bool
	logger      *logrus.Logger
	now         func() time.Time

	mu             sync.Mutex
	state          State
	failures       uint32
	lastFailure    time.Time
	probesAdmitted uint32
	probeSuccesses uint32
	requests       uint64
}

// New builds a closed breaker. maxFailures is the run of counted failures
// that opens it; cooldown is how long it stays open before probing.
func New(name string, maxFailures uint32, cooldown time.Duration, opts ...Option) *CircuitBreaker {
	if maxFailures == 0 {
		maxFailures = 1
	}
	cb := &CircuitBreaker{
		name:        name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		probeQuota:  defaultProbeQuota,
		countable:   func(error) bool { return true },
		logger:      logrus.New(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Execute runs fn when the breaker admits the call. An open breaker
// returns *CircuitBreakerError without invoking fn; fn's own error passes
// through unchanged either way.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.admit() {
		return &CircuitBreakerError{Name: cb.name, State: cb.GetState()}
	}

	err := fn(ctx)
	if err != nil && cb.countable(err) {
		cb.onFailure()
		return err
	}
	cb.onSuccess()
	return err
}

// admit decides whether a call may proceed, moving open to half-open once
// the cooldown has passed. Half-open admissions are counted so at most
// probeQuota probes run before the breaker decides.
func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeHalfOpenLocked()

	switch cb.state {
	case StateClosed:
		cb.requests++
		return true
	case StateHalfOpen:
		if cb.probesAdmitted >= cb.probeQuota {
			return false
		}
		cb.probesAdmitted++
		cb.requests++
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) maybeHalfOpenLocked() {
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.cooldown {
		cb.state = StateHalfOpen
		cb.probesAdmitted = 0
		cb.probeSuccesses = 0
		cb.logger.WithFields(logrus.Fields{
			"circuit_breaker": cb.name,
			"state":           StateHalfOpen.String(),
		}).Info("Circuit breaker probing after cooldown")
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.probeQuota {
			cb.state = StateClosed
			cb.failures = 0
			cb.logger.WithFields(logrus.Fields{
				"circuit_breaker": cb.name,
				"state":           StateClosed.String(),
			}).Info("Circuit breaker closed after successful probes")
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = cb.now()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.maxFailures {
			cb.tripLocked()
		}
	case StateHalfOpen:
		cb.tripLocked()
	}
}

func (cb *CircuitBreaker) tripLocked() {
	cb.state = StateOpen
	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"failures":        cb.failures,
		"state":           StateOpen.String(),
	}).Warn("Circuit breaker opened")
}

// GetState reports the current position, applying the open-to-half-open
// transition if the cooldown has lapsed.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpenLocked()
	return cb.state
}

// Stats is a point-in-time snapshot for health output.
type Stats struct {
	Name        string
	State       State
	Failures    uint32
	Requests    uint64
	LastFailure time.Time
}

func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		Name:        cb.name,
		State:       cb.state,
		Failures:    cb.failures,
		Requests:    cb.requests,
		LastFailure: cb.lastFailure,
	}
}

// CircuitBreakerError reports a call rejected by an open breaker.
type CircuitBreakerError struct {
	Name  string
	State State
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsCircuitBreakerError reports whether err is a breaker rejection.
func IsCircuitBreakerError(err error) bool {
	_, ok := err.(*CircuitBreakerError)
	return ok
}
