// Package circuitbreaker stops calling a failing collaborator for a cool-down period.
package circuitbreaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Default configuration constants
const (
	// DefaultMaxFailures is the number of consecutive failures that opens the circuit
	DefaultMaxFailures = 5
	// DefaultResetTimeout is how long an open circuit rejects calls before probing
	DefaultResetTimeout = 30 * time.Second
)

var (
	// ErrCircuitOpen is returned without calling through while the circuit is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrProbeInFlight is returned while a half-open probe call is running.
	ErrProbeInFlight = errors.New("circuit breaker probe in flight")
)

// State represents circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Opts holds configuration options for a Breaker.
type Opts struct {
	Name         string
	MaxFailures  int
	ResetTimeout time.Duration
	Now          func() time.Time
	// Ignore reports errors that should not count as failures.
	Ignore func(error) bool
}

// Option defines a configuration option for a Breaker.
type Option func(*Opts)

// WithName labels the breaker in logs.
func WithName(name string) Option {
	return func(o *Opts) { o.Name = name }
}

// WithMaxFailures sets the consecutive failure threshold.
func WithMaxFailures(n int) Option {
	return func(o *Opts) { o.MaxFailures = n }
}

// WithResetTimeout sets the open period.
func WithResetTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ResetTimeout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// WithIgnore excludes matching errors from the failure count.
func WithIgnore(fn func(error) bool) Option {
	return func(o *Opts) { o.Ignore = fn }
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time
	ignore       func(error) bool

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a closed breaker.
func New(opts ...Option) *Breaker {
	cfg := Opts{
		Name:         "default",
		MaxFailures:  DefaultMaxFailures,
		ResetTimeout: DefaultResetTimeout,
		Now:          time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 1
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		now:          cfg.Now,
		ignore:       cfg.Ignore,
	}
}

// Call runs fn unless the circuit is open. fn's error is returned unchanged.
func (b *Breaker) Call(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return ErrProbeInFlight
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := err != nil && (b.ignore == nil || !b.ignore(err))
	if b.state == StateHalfOpen {
		b.probing = false
		if failed {
			b.trip()
			return
		}
		b.failures = 0
		b.transition(StateClosed)
		return
	}

	if !failed {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.openedAt = b.now()
	b.transition(StateOpen)
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	slog.Warn("Breaker.transition: state changed", "breaker", b.name, "from", b.state, "to", to, "failures", b.failures)
	b.state = to
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the circuit.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	b.transition(StateClosed)
}
