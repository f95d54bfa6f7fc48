// Package resilience guards calls to the tutor backend with a circuit
// breaker.
//
// A [Breaker] counts consecutive failures. After MaxFailures of them it
// opens and rejects calls with [ErrOpen] until ResetTimeout has passed. It
// then lets one probe call through at a time (half-open); ProbeSuccesses
// successful probes close it again, a failing probe re-opens it.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call until the reset timeout elapses.
	StateOpen

	// StateHalfOpen forwards one probe call at a time.
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

// BreakerConfig tunes a [Breaker]. Zero values take the defaults noted on
// each field.
type BreakerConfig struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// ProbeSuccesses is the number of successful half-open probes needed to
	// close the breaker. Default: 1.
	ProbeSuccesses int

	// IsFailure decides whether an error counts against the backend. Errors
	// it rejects neither trip nor reset the breaker. Default: every non-nil
	// error except context cancellation.
	IsFailure func(error) bool

	// OnStateChange, when set, is called after every transition. It runs
	// with the breaker locked and must not call back into it.
	OnStateChange func(from, to State)
}

// Breaker implements the three-state circuit breaker. It is safe for
// concurrent use.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probing   bool
	successes int
}

// NewBreaker returns a closed Breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.ProbeSuccesses <= 0 {
		cfg.ProbeSuccesses = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = defaultIsFailure
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

func defaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Do runs fn unless the breaker rejects the call, and records its outcome.
// A rejected call returns [ErrOpen] without running fn.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.record(probe, err)
	return err
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return false, ErrOpen
		}
		b.transition(StateHalfOpen)
		b.successes = 0
		fallthrough
	case StateHalfOpen:
		if b.probing {
			return false, ErrOpen
		}
		b.probing = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}
	failed := err != nil && b.cfg.IsFailure(err)

	switch {
	case probe && failed:
		b.open()
	case probe && err == nil:
		b.successes++
		if b.successes >= b.cfg.ProbeSuccesses {
			b.failures = 0
			b.transition(StateClosed)
		}
	case failed:
		b.failures++
		if b.state == StateClosed && b.failures >= b.cfg.MaxFailures {
			b.open()
		}
	case err == nil:
		b.failures = 0
	}
}

func (b *Breaker) open() {
	b.openedAt = b.now()
	b.transition(StateOpen)
	slog.Warn("circuit breaker opened",
		"name", b.cfg.Name,
		"consecutive_failures", b.failures,
		"retry_after", b.cfg.ResetTimeout,
	)
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateClosed {
		slog.Info("circuit breaker closed", "name", b.cfg.Name)
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.successes = 0
	b.probing = false
	b.transition(StateClosed)
}
