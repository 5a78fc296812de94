package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg BreakerConfig) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	b := NewBreaker(cfg)
	b.now = clk.now
	return b, clk
}

func fail(context.Context) error { return errBackend }
func ok(context.Context) error   { return nil }

func TestNewBreaker_Defaults(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{Name: "x"})
	if b.cfg.MaxFailures != 3 || b.cfg.ResetTimeout != 30*time.Second || b.cfg.HalfOpenMax != 1 {
		t.Errorf("defaults = %+v", b.cfg)
	}
	if b.State() != StateClosed {
		t.Errorf("State() = %v, want closed", b.State())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(BreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute})
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, ok) // success resets the count
	_ = b.Do(ctx, fail)
	if b.State() != StateClosed {
		t.Fatalf("State() = %v, want closed", b.State())
	}
	_ = b.Do(ctx, fail)
	if b.State() != StateOpen {
		t.Fatalf("State() = %v, want open", b.State())
	}

	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Do() error = %v, want ErrOpen", err)
	}
	if called {
		t.Error("fn called while open")
	}
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	t.Parallel()
	var changes []string
	b, clk := newTestBreaker(BreakerConfig{
		Name:         "tts",
		MaxFailures:  1,
		ResetTimeout: 10 * time.Second,
		OnStateChange: func(name string, from, to State) {
			changes = append(changes, name+":"+from.String()+">"+to.String())
		},
	})
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	clk.advance(10 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("State() = %v, want half-open", b.State())
	}

	// A failed trial re-opens.
	_ = b.Do(ctx, fail)
	if b.State() != StateOpen {
		t.Fatalf("State() = %v, want open", b.State())
	}

	clk.advance(10 * time.Second)
	if err := b.Do(ctx, ok); err != nil {
		t.Fatalf("trial error = %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("State() = %v, want closed", b.State())
	}

	want := []string{
		"tts:closed>open",
		"tts:open>half-open",
		"tts:half-open>open",
		"tts:open>half-open",
		"tts:half-open>closed",
	}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("changes[%d] = %q, want %q", i, changes[i], want[i])
		}
	}
}

func TestBreaker_CancellationIsNotFailure(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(BreakerConfig{MaxFailures: 1})
	ctx, cancel := context.WithCancel(context.Background())

	err := b.Do(ctx, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want context.Canceled", err)
	}
	if b.State() != StateClosed {
		t.Errorf("State() = %v, want closed", b.State())
	}

	// An already-cancelled context never reaches fn.
	called := false
	_ = b.Do(ctx, func(context.Context) error { called = true; return nil })
	if called {
		t.Error("fn called with cancelled context")
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(BreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	_ = b.Do(context.Background(), fail)
	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("State() = %v, want closed", b.State())
	}
	if err := b.Do(context.Background(), ok); err != nil {
		t.Errorf("Do() after Reset error = %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[State]string{
		StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open", State(9): "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
