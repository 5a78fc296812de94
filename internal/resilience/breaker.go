// Package resilience guards the assistant's remote providers.
//
// A [Breaker] stops calling a backend after repeated failures and tries it
// again once a cool-off has passed. A [Group] orders several backends of the
// same kind, each behind its own breaker, and answers from the first one that
// succeeds. [STTFallback], [LLMFallback] and [TTSFallback] wrap groups so they
// satisfy the provider interfaces directly.
//
// Cancellation is not failure: a call that ends with the caller's context
// error never counts against a breaker, because interrupted turns cancel
// their in-flight requests on purpose.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects calls until the reset timeout has elapsed.
	StateOpen
	// StateHalfOpen lets a limited number of trial calls through.
	StateHalfOpen
)

// String returns the state name used in logs and metrics.
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

// BreakerConfig tunes a [Breaker]. Zero fields take the defaults noted below.
type BreakerConfig struct {
	// Name labels log lines and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 3.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful trials needed to close again.
	// Default: 1.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition. It runs with
	// the breaker's lock released.
	OnStateChange func(name string, from, to State)
}

// Breaker is a three-state circuit breaker. It is safe for concurrent use.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	trials    int
	successes int
}

// NewBreaker returns a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Name returns the configured label.
func (b *Breaker) Name() string { return b.cfg.Name }

// Do runs fn unless the breaker is open. The outcome of fn updates the
// breaker, except when fn fails because ctx ended.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	trial, err := b.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)

	switch {
	case err == nil:
		b.succeed(trial)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		b.release(trial)
	default:
		b.fail(trial)
	}
	return err
}

// State reports the current state. An open breaker whose timeout has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures, b.trials, b.successes = 0, 0, 0
	b.mu.Unlock()
	b.notify(from, StateClosed)
}

func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			b.mu.Unlock()
			return false, ErrOpen
		}
		b.state = StateHalfOpen
		b.trials, b.successes = 0, 0
	case StateHalfOpen:
		if b.trials >= b.cfg.HalfOpenMax {
			b.mu.Unlock()
			return false, ErrOpen
		}
	}
	trial = b.state == StateHalfOpen
	if trial {
		b.trials++
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
	return trial, nil
}

func (b *Breaker) succeed(trial bool) {
	b.mu.Lock()
	from := b.state
	if trial && b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.cfg.HalfOpenMax {
			b.state = StateClosed
			b.failures, b.trials, b.successes = 0, 0, 0
		}
	} else if b.state == StateClosed {
		b.failures = 0
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

func (b *Breaker) fail(trial bool) {
	b.mu.Lock()
	from := b.state
	switch {
	case trial && b.state == StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.now()
	case b.state == StateClosed:
		b.failures++
		if b.failures >= b.cfg.MaxFailures {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

// release returns an unused trial slot after a cancelled call.
func (b *Breaker) release(trial bool) {
	if !trial {
		return
	}
	b.mu.Lock()
	if b.state == StateHalfOpen && b.trials > 0 {
		b.trials--
	}
	b.mu.Unlock()
}

func (b *Breaker) notify(from, to State) {
	if from == to {
		return
	}
	slog.Info("circuit breaker state changed", "name", b.cfg.Name, "from", from, "to", to)
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}
