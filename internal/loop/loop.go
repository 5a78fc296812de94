// Package loop provides the single-threaded execution context that every
// real-time audio component of parley runs on.
//
// The playback primitive, playback queue, interruption classifier and
// recording controller hold no locks. Instead, all of their methods are called
// from one goroutine owned by a [Loop]. Work produced elsewhere (speaker
// end-of-stream callbacks, microphone chunks, provider results) is marshalled
// onto that goroutine with [Scheduler.Post], and deferred continuations
// (settling delays, cooldowns, recording expiry) use [Scheduler.AfterFunc].
//
// Components depend on the [Scheduler] interface so that tests can substitute
// the virtual-time scheduler from the loop/mock package.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by [Loop.Call] when the loop has been closed.
var ErrClosed = errors.New("loop: closed")

// Timer is a pending deferred callback created by [Scheduler.AfterFunc].
type Timer interface {
	// Stop prevents the callback from running. It returns true if the call
	// stopped the timer, false if the callback already ran or was stopped.
	Stop() bool
}

// Scheduler serialises callbacks onto a single execution context.
//
// Callbacks passed to Post and AfterFunc never run concurrently with each
// other. Post and AfterFunc themselves may be called from any goroutine.
type Scheduler interface {
	// Post schedules fn to run on the loop as soon as possible. Callbacks
	// posted from the same goroutine run in the order they were posted.
	Post(fn func())

	// AfterFunc schedules fn to run on the loop once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer

	// Now returns the scheduler's notion of the current time.
	Now() time.Time
}

// Option configures a [Loop].
type Option func(*Loop)

// WithClock overrides the wall clock used by [Loop.Now].
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
	}
}

// Loop is the production [Scheduler]: a queue of callbacks drained by the
// goroutine that calls [Loop.Run].
type Loop struct {
	now func() time.Time

	mu     sync.Mutex
	queue  []func()
	closed bool

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Compile-time interface assertion.
var _ Scheduler = (*Loop)(nil)

// New creates a Loop. Callbacks may be posted before Run is called; they are
// executed once Run starts.
func New(opts ...Option) *Loop {
	l := &Loop{
		now:    time.Now,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Post implements [Scheduler]. Callbacks posted after Close are dropped.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// AfterFunc implements [Scheduler]. The callback is posted to the loop when
// the timer fires; a Stop that happens between firing and execution still
// prevents it from running.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &timer{}
	t.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.fired.CompareAndSwap(false, true) {
				fn()
			}
		})
	})
	return t
}

// Now implements [Scheduler].
func (l *Loop) Now() time.Time {
	return l.now()
}

// Run executes posted callbacks until ctx is cancelled or Close is called.
// It must be called at most once.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.drain()
		select {
		case <-ctx.Done():
			l.Close()
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.notify:
		}
	}
}

// Call runs fn on the loop and waits for it to return. It is the way for
// goroutines outside the loop to read component state.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	l.Post(func() {
		defer close(ran)
		fn()
	})
	select {
	case <-ran:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the loop. Pending callbacks are discarded. Close is idempotent
// and always returns nil.
func (l *Loop) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	})
	return nil
}

// drain runs every callback that is currently queued, including callbacks
// posted by the callbacks themselves.
func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			select {
			case <-l.done:
				return
			default:
			}
			runSafely(fn)
		}
	}
}

// runSafely executes fn and logs instead of crashing when it panics. A
// misbehaving callback must not take the audio pipeline down with it.
func runSafely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("loop: callback panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// timer adapts time.Timer to [Timer] with run-once semantics.
type timer struct {
	t     *time.Timer
	fired atomic.Bool
}

func (t *timer) Stop() bool {
	t.t.Stop()
	return t.fired.CompareAndSwap(false, true)
}
