// Package player implements the playback primitive: it owns at most one
// sounding element at a time and reports that element's lifecycle.
//
// The [Player] runs on the event loop (see internal/loop). Its [Backend]
// actually produces sound and may report end-of-stream or failure from any
// goroutine; the Player marshals those reports back onto the loop and
// discards reports from elements it has already stopped or replaced.
//
// The currently audible element is published through an [Observer] so that
// other components can ask "is speech playing right now" without holding a
// reference to the Player.
package player

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/parley/internal/loop"
	"github.com/MrWong99/parley/pkg/audio"
)

// Element is one playable sound created by a [Backend].
type Element interface {
	// Start begins output. Exactly one of onEnd or onError is eventually
	// called unless Stop is called first. Either may be called from any
	// goroutine. A non-nil return means output never began and neither
	// callback will be called.
	Start(onEnd func(), onError func(error)) error

	// Stop halts output and releases the element's decoder. Idempotent.
	Stop()
}

// Backend is the environment that can make sound.
type Backend interface {
	// Open prepares the audio at uri for playback at the given speed.
	Open(uri string, rate float64) (Element, error)

	// StopAll silences every element the backend has ever started,
	// including ones the Player no longer tracks.
	StopAll()
}

// Releaser frees the audio behind a URI. *blob.Store satisfies it.
type Releaser interface {
	Revoke(uri string)
}

// ErrBackend wraps failures reported by the [Backend].
var ErrBackend = errors.New("player: backend failure")

// Option configures a [Player].
type Option func(*Player)

// WithObserver publishes playback state to obs instead of a private
// observer. Use it to share one observation point across components.
func WithObserver(obs *Observer) Option {
	return func(p *Player) {
		if obs != nil {
			p.obs = obs
		}
	}
}

type active struct {
	handle audio.Handle
	elem   Element
}

// Player is the playback primitive. It is not safe for concurrent use; all
// methods must be called on the event loop.
type Player struct {
	backend Backend
	sched   loop.Scheduler
	store   Releaser
	obs     *Observer

	onEnd   func(audio.Handle)
	onError func(audio.Handle, error)

	nextID uint64
	cur    *active
}

// New creates a Player.
func New(backend Backend, sched loop.Scheduler, store Releaser, opts ...Option) *Player {
	p := &Player{
		backend: backend,
		sched:   sched,
		store:   store,
		obs:     NewObserver(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// OnEnd registers fn to run when an element finishes naturally. Only one
// handler may be registered; later calls replace earlier ones.
func (p *Player) OnEnd(fn func(audio.Handle)) { p.onEnd = fn }

// OnError registers fn to run when an element fails to start or fails while
// playing. Only one handler may be registered; later calls replace earlier ones.
func (p *Player) OnError(fn func(audio.Handle, error)) { p.onError = fn }

// Observer returns the observation point this Player publishes to.
func (p *Player) Observer() *Observer { return p.obs }

// Play stops whatever is playing and starts uri at the given rate (values
// <= 0 mean 1.0). On failure the URI is released, nothing is playing, the
// error callback is scheduled and the error is returned.
func (p *Player) Play(uri string, rate float64) (audio.Handle, error) {
	if rate <= 0 {
		rate = 1
	}
	p.StopCurrent()

	p.nextID++
	h := audio.Handle{ID: p.nextID, URI: uri, Rate: rate}

	elem, err := p.backend.Open(uri, rate)
	if err != nil {
		return audio.Handle{}, p.failStart(h, fmt.Errorf("%w: open %s: %w", ErrBackend, uri, err))
	}

	h.Started = p.sched.Now()
	p.cur = &active{handle: h, elem: elem}

	id := h.ID
	err = elem.Start(
		func() { p.sched.Post(func() { p.finish(id, nil) }) },
		func(err error) { p.sched.Post(func() { p.finish(id, err) }) },
	)
	if err != nil {
		p.cur = nil
		elem.Stop()
		return audio.Handle{}, p.failStart(h, fmt.Errorf("%w: start %s: %w", ErrBackend, uri, err))
	}

	p.obs.publish(h, true)
	slog.Debug("player: started", "id", h.ID, "uri", uri, "rate", rate)
	return h, nil
}

// StopCurrent halts the active element, if any, and releases its URI. No
// callbacks are invoked. Idempotent.
func (p *Player) StopCurrent() {
	if p.cur == nil {
		return
	}
	cur := p.cur
	p.cur = nil
	cur.elem.Stop()
	p.store.Revoke(cur.handle.URI)
	p.obs.publish(audio.Handle{}, false)
	slog.Debug("player: stopped", "id", cur.handle.ID)
}

// StopAll stops the active element and asks the backend to silence every
// other element it knows about. Safe to call when idle. Idempotent.
func (p *Player) StopAll() {
	p.StopCurrent()
	p.backend.StopAll()
}

// IsPlaying reports whether an element is active.
func (p *Player) IsPlaying() bool { return p.cur != nil }

// Current returns the active element's handle.
func (p *Player) Current() (audio.Handle, bool) {
	if p.cur == nil {
		return audio.Handle{}, false
	}
	return p.cur.handle, true
}

// finish handles an end or error report for element id on the loop.
func (p *Player) finish(id uint64, err error) {
	if p.cur == nil || p.cur.handle.ID != id {
		slog.Debug("player: ignoring report from stale element", "id", id)
		return
	}
	h := p.cur.handle
	p.cur = nil
	p.store.Revoke(h.URI)
	p.obs.publish(audio.Handle{}, false)

	if err != nil {
		slog.Warn("player: playback failed", "id", id, "uri", h.URI, "err", err)
		if p.onError != nil {
			p.onError(h, fmt.Errorf("%w: %w", ErrBackend, err))
		}
		return
	}
	slog.Debug("player: ended", "id", id)
	if p.onEnd != nil {
		p.onEnd(h)
	}
}

// failStart releases h's URI and schedules the error callback.
func (p *Player) failStart(h audio.Handle, err error) error {
	p.store.Revoke(h.URI)
	slog.Warn("player: could not start playback", "uri", h.URI, "err", err)
	if p.onError != nil {
		fn := p.onError
		p.sched.Post(func() { fn(h, err) })
	}
	return err
}
