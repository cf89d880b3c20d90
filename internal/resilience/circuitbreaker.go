// Package resilience guards calls to the broker so a failing upstream is
// not hammered with requests while it is down.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"zerodha-strategy/internal/clock"
)

// State is the position of a breaker.
type State string

const (
	StateClosed   State = "CLOSED"    // calls pass through
	StateOpen     State = "OPEN"      // calls are rejected
	StateHalfOpen State = "HALF_OPEN" // probing after the cool-off
)

// ErrOpen is returned without calling through while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds breaker thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that closes it again.
	SuccessThreshold int
	// CoolOff is how long the breaker stays open before probing.
	CoolOff time.Duration
}

// DefaultConfig returns the thresholds used for live order placement.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		CoolOff:          time.Minute,
	}
}

// Breaker implements the circuit breaker pattern over a clock.
type Breaker struct {
	name  string
	cfg   Config
	clock clock.Clock

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	openedAt    time.Time
	lastChange  time.Time
	totalCalls  int64
	totalFailed int64
	rejected    int64
}

// NewBreaker creates a closed breaker. Zero thresholds fall back to
// DefaultConfig.
func NewBreaker(name string, cfg Config, clk clock.Clock) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.CoolOff <= 0 {
		cfg.CoolOff = def.CoolOff
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Breaker{
		name:       name,
		cfg:        cfg,
		clock:      clk,
		state:      StateClosed,
		lastChange: clk.Now(),
	}
}

// Execute runs fn unless the breaker is open. A context cancellation from
// the caller is not counted against the upstream.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	_, err := Call(b, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call is Execute for functions that return a value.
func Call[T any](b *Breaker, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allow(); err != nil {
		return zero, err
	}

	v, err := fn(ctx)
	switch {
	case err == nil:
		b.recordSuccess()
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		// caller went away
	default:
		b.recordFailure()
	}
	return v, err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls++
	if b.state == StateOpen {
		if b.clock.Now().Sub(b.openedAt) < b.cfg.CoolOff {
			b.rejected++
			return ErrOpen
		}
		b.transition(StateHalfOpen)
	}
	return nil
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	case StateClosed:
		b.failures = 0
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailed++
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

func (b *Breaker) transition(s State) {
	b.state = s
	b.failures = 0
	b.successes = 0
	b.lastChange = b.clock.Now()
	if s == StateOpen {
		b.openedAt = b.lastChange
	}
}

// State returns the current state. An open breaker whose cool-off has
// elapsed still reports open until the next call tries it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.transition(StateClosed)
	b.mu.Unlock()
}

// Stats is a snapshot of breaker counters.
type Stats struct {
	Name       string    `json:"name"`
	State      State     `json:"state"`
	Calls      int64     `json:"calls"`
	Failures   int64     `json:"failures"`
	Rejected   int64     `json:"rejected"`
	LastChange time.Time `json:"last_change"`
}

// Stats returns the counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:       b.name,
		State:      b.state,
		Calls:      b.totalCalls,
		Failures:   b.totalFailed,
		Rejected:   b.rejected,
		LastChange: b.lastChange,
	}
}
