// Package playback sequences synthesized speech fragments through the
// playback primitive.
//
// A [Queue] plays [audio.PlaybackItem] values one at a time in strict enqueue
// order. Before each item it waits a settling delay chosen by the item's
// source (synthesis providers that keep buffering after they return need a
// longer pause), and after each item it waits a short cooldown before
// starting the next. [Queue.Clear] drops everything and silences the player;
// it is the cancellation primitive used when the user interrupts.
//
// The queue is a state machine: every input is an event fed to a pure
// transition function that returns the next state and a list of effects,
// which the Queue then executes against the player and the scheduler.
package playback

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/parley/internal/loop"
	"github.com/MrWong99/parley/pkg/audio"
)

// Default timing.
const (
	DefaultPrimarySource = "elevenlabs"
	DefaultPrimarySettle = 300 * time.Millisecond
	DefaultOtherSettle   = 50 * time.Millisecond
	DefaultCooldown      = 100 * time.Millisecond
)

// Player is the subset of *player.Player the queue drives.
type Player interface {
	Play(uri string, rate float64) (audio.Handle, error)
	StopAll()
	IsPlaying() bool
	OnEnd(fn func(audio.Handle))
	OnError(fn func(audio.Handle, error))
}

// Releaser frees the audio behind a URI. *blob.Store satisfies it.
type Releaser interface {
	Revoke(uri string)
}

// InterruptSource reports whether an interruption has been confirmed and not
// yet reset. *interrupt.Classifier satisfies it.
type InterruptSource interface {
	Detected() bool
}

// Metrics receives queue telemetry. *observe.Metrics satisfies it.
type Metrics interface {
	RecordPlaybackItem(ctx context.Context, source, outcome string)
	RecordSettleDelay(ctx context.Context, source string, d time.Duration)
	RecordQueueDepth(ctx context.Context, depth int)
}

// Item outcomes reported to [Metrics].
const (
	OutcomePlayed    = "played"
	OutcomeFailed    = "failed"
	OutcomeDiscarded = "discarded"
)

// Option configures a [Queue].
type Option func(*Queue)

// WithSettleDelays sets the settling delay for items whose Source equals
// primarySource and for all other items.
func WithSettleDelays(primarySource string, primary, other time.Duration) Option {
	return func(q *Queue) {
		q.timing.primarySource = primarySource
		q.timing.primarySettle = primary
		q.timing.otherSettle = other
	}
}

// WithCooldown sets the pause after an item ends before the next drain.
func WithCooldown(d time.Duration) Option {
	return func(q *Queue) { q.timing.cooldown = d }
}

// WithRate sets the playback speed passed to the player. Default 1.0.
func WithRate(rate float64) Option {
	return func(q *Queue) {
		if rate > 0 {
			q.rate = rate
		}
	}
}

// WithInterruptSource makes drains halt while src reports an interruption.
func WithInterruptSource(src InterruptSource) Option {
	return func(q *Queue) { q.interrupts = src }
}

// WithOnIdle registers fn to run whenever a drain finds nothing left to
// play. interrupted is true when the drain halted because of an interruption.
func WithOnIdle(fn func(interrupted bool)) Option {
	return func(q *Queue) { q.onIdle = fn }
}

// WithMetrics records queue telemetry to m.
func WithMetrics(m Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// Queue is the playback queue. It is not safe for concurrent use; all methods
// must be called on the event loop.
type Queue struct {
	player     Player
	sched      loop.Scheduler
	store      Releaser
	interrupts InterruptSource
	metrics    Metrics
	onIdle     func(bool)
	timing     timing
	rate       float64

	st    state
	timer loop.Timer
}

// New creates a Queue that plays through p and registers itself as p's end
// and error handler.
func New(p Player, sched loop.Scheduler, store Releaser, opts ...Option) *Queue {
	q := &Queue{
		player: p,
		sched:  sched,
		store:  store,
		rate:   1,
		timing: timing{
			primarySource: DefaultPrimarySource,
			primarySettle: DefaultPrimarySettle,
			otherSettle:   DefaultOtherSettle,
			cooldown:      DefaultCooldown,
		},
	}
	for _, o := range opts {
		o(q)
	}
	p.OnEnd(func(h audio.Handle) { q.dispatch(evFinished{uri: h.URI}) })
	p.OnError(func(h audio.Handle, err error) {
		slog.Warn("playback: item failed, continuing with next", "uri", h.URI, "err", err)
		q.dispatch(evFinished{uri: h.URI, failed: true})
	})
	return q
}

// Enqueue appends item. If the queue is idle and nothing is playing, draining
// starts immediately.
func (q *Queue) Enqueue(item audio.PlaybackItem) {
	slog.Debug("playback: enqueue", "source", item.Source, "text", item.Text)
	q.dispatch(evEnqueue{item: item})
}

// Drain starts the next item if nothing is in flight. It is a no-op while an
// item is settling, playing or cooling down.
func (q *Queue) Drain() {
	q.dispatch(evDrain{})
}

// Clear drops all pending items, releases their audio, stops all playback and
// cancels any pending settle or cooldown. Idempotent.
func (q *Queue) Clear() {
	q.dispatch(evClear{})
}

// IsProcessing reports whether an item is settling, playing or cooling down.
func (q *Queue) IsProcessing() bool { return q.st.phase != Idle }

// Phase returns the current phase.
func (q *Queue) Phase() Phase { return q.st.phase }

// Len returns the number of items waiting to be played, excluding the one in
// flight.
func (q *Queue) Len() int { return len(q.st.pending) }

func (q *Queue) dispatch(ev event) {
	e := env{playerBusy: q.player.IsPlaying()}
	if q.interrupts != nil {
		e.interrupted = q.interrupts.Detected()
	}
	next, effects := reduce(q.st, ev, e, q.timing)
	q.st = next
	for _, eff := range effects {
		q.apply(eff)
	}
	if q.metrics != nil {
		q.metrics.RecordQueueDepth(context.Background(), len(q.st.pending))
	}
}

func (q *Queue) apply(eff effect) {
	ctx := context.Background()
	switch eff := eff.(type) {
	case effScheduleSettle:
		gen := eff.gen
		q.arm(eff.delay, func() { q.dispatch(evSettled{gen: gen}) })
		if q.metrics != nil {
			q.metrics.RecordSettleDelay(ctx, eff.item.Source, eff.delay)
		}

	case effPlay:
		if _, err := q.player.Play(eff.item.URI, q.rate); err != nil {
			// The player reports the failure through its error callback,
			// which advances the queue.
			slog.Debug("playback: play failed", "uri", eff.item.URI, "err", err)
		}

	case effScheduleCooldown:
		gen := eff.gen
		q.arm(eff.delay, func() { q.dispatch(evCooldownDone{gen: gen}) })

	case effFinished:
		if q.metrics != nil {
			outcome := OutcomePlayed
			if eff.failed {
				outcome = OutcomeFailed
			}
			q.metrics.RecordPlaybackItem(ctx, eff.item.Source, outcome)
		}

	case effRelease:
		q.store.Revoke(eff.item.URI)
		if eff.discarded && q.metrics != nil {
			q.metrics.RecordPlaybackItem(ctx, eff.item.Source, OutcomeDiscarded)
		}

	case effStopAll:
		if q.timer != nil {
			q.timer.Stop()
			q.timer = nil
		}
		q.player.StopAll()
		slog.Debug("playback: cleared")

	case effHalted:
		if eff.interrupted {
			slog.Debug("playback: drain halted by interruption", "pending", len(q.st.pending))
		}
		if q.onIdle != nil {
			q.onIdle(eff.interrupted)
		}
	}
}

func (q *Queue) arm(d time.Duration, fn func()) {
	q.timer = q.sched.AfterFunc(d, func() {
		q.timer = nil
		fn()
	})
}
