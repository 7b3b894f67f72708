package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call without executing it.
var ErrOpen = errors.New("circuit breaker open")

// State is the breaker's position in its closed/open/half-open cycle.
type State int

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

// Config tunes when the breaker trips and how it recovers.
type Config struct {
	// TripAfter is the consecutive-failure count that opens the circuit.
	TripAfter int
	// RecoverAfter is the half-open success count that closes it again.
	RecoverAfter int
	// CoolDown is how long the circuit stays open before admitting probes.
	CoolDown time.Duration
	// HalfOpenLimit caps calls admitted while half-open.
	HalfOpenLimit int
}

func DefaultConfig() Config {
	return Config{
		TripAfter:     5,
		RecoverAfter:  2,
		CoolDown:      30 * time.Second,
		HalfOpenLimit: 3,
	}
}

// CircuitBreaker fails calls fast once a backend has proven unhealthy,
// then lets a trickle of probes through to detect recovery.
type CircuitBreaker struct {
	name string
	cfg  Config

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	probes    int
	lastErrAt time.Time
	changedAt time.Time
	notify    func(from, to State)
}

func New(name string, cfg Config) *CircuitBreaker {
	return &CircuitBreaker{
		name:      name,
		cfg:       cfg,
		state:     StateClosed,
		changedAt: time.Now(),
	}
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// OnStateChange registers a callback invoked on every transition. The
// callback runs on its own goroutine and must not call back into the
// breaker synchronously.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.notify = fn
}

// Do runs fn through the breaker cb. A rejected call returns an error
// wrapping ErrOpen without invoking fn.
func Do[T any](ctx context.Context, cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T

	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if err := cb.admit(); err != nil {
		return zero, err
	}

	result, err := fn()
	cb.record(err == nil)
	if err != nil {
		return zero, err
	}
	return result, nil
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.changedAt) < cb.cfg.CoolDown {
			return fmt.Errorf("%s is %s: %w", cb.name, cb.state, ErrOpen)
		}
		cb.shift(StateHalfOpen)
		cb.probes = 1
		return nil
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenLimit {
			return fmt.Errorf("%s is %s: %w", cb.name, cb.state, ErrOpen)
		}
		cb.probes++
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if ok {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.successes++
			if cb.successes >= cb.cfg.RecoverAfter {
				cb.shift(StateClosed)
			}
		}
		return
	}

	cb.failures++
	cb.successes = 0
	cb.lastErrAt = time.Now()

	switch cb.state {
	case StateHalfOpen:
		// One failed probe ends the recovery attempt.
		cb.shift(StateOpen)
	case StateClosed:
		if cb.failures >= cb.cfg.TripAfter {
			cb.shift(StateOpen)
		}
	}
}

// shift is called with cb.mu held.
func (cb *CircuitBreaker) shift(to State) {
	if cb.state == to {
		return
	}

	from := cb.state
	cb.state = to
	cb.changedAt = time.Now()
	cb.failures = 0
	cb.successes = 0
	cb.probes = 0

	if cb.notify != nil {
		go cb.notify(from, to)
	}
}

// State returns the breaker's current position.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats is a point-in-time view of the breaker for diagnostics.
type Stats struct {
	State       State
	Failures    int
	Probes      int
	LastFailure time.Time
	SinceChange time.Duration
}

func (cb *CircuitBreaker) Snapshot() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		State:       cb.state,
		Failures:    cb.failures,
		Probes:      cb.probes,
		LastFailure: cb.lastErrAt,
		SinceChange: time.Since(cb.changedAt),
	}
}
