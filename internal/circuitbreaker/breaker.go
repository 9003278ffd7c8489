// Package circuitbreaker guards backends against cascading failures.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State is the breaker state.
type State int

const (
	// StateClosed allows all requests through.
	StateClosed State = iota
	// StateOpen fast-fails all requests.
	StateOpen
	// StateHalfOpen allows probe requests through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Allow when the breaker is rejecting requests.
var ErrOpen = errors.New("circuit breaker open")

// Config holds breaker thresholds.
type Config struct {
	// FailureThreshold is the consecutive failure count that opens the
	// breaker from closed.
	FailureThreshold int
	// SuccessThreshold is the consecutive success count that closes the
	// breaker from half-open.
	SuccessThreshold int
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
}

// DefaultConfig matches the standard per-backend defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// Breaker is a per-backend circuit breaker. One instance guards one
// backend; all connections to that backend share it.
type Breaker struct {
	cfg Config

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time

	// now is swappable for tests.
	now func() time.Time

	// onStateChange, when set, observes transitions. Called outside the
	// lock would race with rapid transitions, so it is invoked while held;
	// keep it cheap.
	onStateChange func(from, to State)
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultConfig().SuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Breaker{cfg: cfg, state: StateClosed, now: time.Now}
}

// OnStateChange registers a transition observer. Must be called before the
// breaker is shared.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.onStateChange = fn
}

// Allow reports whether a request may proceed. In the open state the
// timeout is checked lazily: the first Allow after expiry transitions to
// half-open and is admitted.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.Timeout {
			b.transition(StateHalfOpen)
			return nil
		}
		return ErrOpen
	}
	return nil
}

// RecordSuccess records a successful backend call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

// RecordFailure records a failed backend call. Only backend failures count;
// client-side rejections never reach the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
	}
}

// Call runs fn under the breaker. A rejected call returns ErrOpen without
// invoking fn.
func (b *Breaker) Call(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// State returns the current state, applying the lazy open-timeout check so
// callers observe half-open once the window has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Timeout {
		b.transition(StateHalfOpen)
	}
	return b.state
}

// transition moves the state machine. Caller holds the lock.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	switch to {
	case StateOpen:
		b.openedAt = b.now()
	case StateHalfOpen:
		b.failures = 0
		b.successes = 0
	case StateClosed:
		b.failures = 0
		b.successes = 0
	}
	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}
