// Package speaker is the production player.Backend. It decodes MP3 and WAV
// blobs with beep and plays them on the default output device.
//
// The speaker is initialised once at a fixed output rate; elements with a
// different source rate or a non-unit speed are resampled on the fly.
package speaker

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	beepspeaker "github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"

	"github.com/MrWong99/parley/pkg/audio/player"
)

// Opener resolves a URI to its encoded audio. *blob.Store satisfies it.
type Opener interface {
	Open(uri string) (io.ReadSeeker, string, error)
}

// ErrUnsupportedMIME is returned by Open for audio it cannot decode.
var ErrUnsupportedMIME = errors.New("speaker: unsupported audio type")

const resampleQuality = 4

// Option configures a [Backend].
type Option func(*Backend)

// WithSampleRate sets the output device rate. Default 44100.
func WithSampleRate(hz int) Option {
	return func(b *Backend) {
		if hz > 0 {
			b.rate = beep.SampleRate(hz)
		}
	}
}

// WithBufferDuration sets the device buffer length. Shorter buffers lower
// latency and raise the risk of underruns. Default 100ms.
func WithBufferDuration(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.buffer = d
		}
	}
}

// Backend plays decoded audio on the system speaker.
type Backend struct {
	store  Opener
	rate   beep.SampleRate
	buffer time.Duration

	mu    sync.Mutex
	elems map[*element]struct{}
}

// Ensure Backend implements player.Backend at compile time.
var _ player.Backend = (*Backend)(nil)

// New initialises the speaker and returns a Backend reading from store.
func New(store Opener, opts ...Option) (*Backend, error) {
	b := &Backend{
		store:  store,
		rate:   44100,
		buffer: 100 * time.Millisecond,
		elems:  make(map[*element]struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	if err := beepspeaker.Init(b.rate, b.rate.N(b.buffer)); err != nil {
		return nil, fmt.Errorf("speaker: init: %w", err)
	}
	return b, nil
}

// Open decodes the blob at uri.
func (b *Backend) Open(uri string, rate float64) (player.Element, error) {
	r, mime, err := b.store.Open(uri)
	if err != nil {
		return nil, err
	}

	var (
		stream beep.StreamSeekCloser
		format beep.Format
	)
	switch {
	case strings.Contains(mime, "mpeg"), strings.Contains(mime, "mp3"):
		stream, format, err = mp3.Decode(io.NopCloser(r))
	case strings.Contains(mime, "wav"):
		stream, format, err = wav.Decode(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMIME, mime)
	}
	if err != nil {
		return nil, fmt.Errorf("speaker: decode %s: %w", mime, err)
	}

	ratio := float64(format.SampleRate) / float64(b.rate) * rate
	var src beep.Streamer = stream
	if ratio != 1 {
		src = beep.ResampleRatio(resampleQuality, ratio, stream)
	}
	return &element{backend: b, decoder: stream, src: src}, nil
}

// StopAll stops every tracked element and clears the speaker mixer, which
// also silences streamers nobody is tracking any more.
func (b *Backend) StopAll() {
	b.mu.Lock()
	elems := make([]*element, 0, len(b.elems))
	for e := range b.elems {
		elems = append(elems, e)
	}
	b.mu.Unlock()

	for _, e := range elems {
		e.Stop()
	}
	beepspeaker.Clear()
}

// Close stops all output and releases the audio device.
func (b *Backend) Close() error {
	b.StopAll()
	beepspeaker.Close()
	return nil
}

func (b *Backend) track(e *element) {
	b.mu.Lock()
	b.elems[e] = struct{}{}
	b.mu.Unlock()
}

func (b *Backend) untrack(e *element) {
	b.mu.Lock()
	delete(b.elems, e)
	b.mu.Unlock()
}

type element struct {
	backend *Backend
	decoder beep.StreamSeekCloser
	src     beep.Streamer
	ctrl    *beep.Ctrl

	once sync.Once
}

func (e *element) Start(onEnd func(), onError func(error)) error {
	// The callback runs inside the speaker goroutine with the speaker lock
	// held, so it must not call back into the speaker package.
	done := beep.Callback(func() {
		e.release()
		if err := e.decoder.Err(); err != nil {
			onError(err)
			return
		}
		onEnd()
	})
	e.ctrl = &beep.Ctrl{Streamer: beep.Seq(e.src, done)}
	e.backend.track(e)
	beepspeaker.Play(e.ctrl)
	return nil
}

func (e *element) Stop() {
	if e.ctrl != nil {
		beepspeaker.Lock()
		e.ctrl.Streamer = nil
		beepspeaker.Unlock()
	}
	e.release()
}

func (e *element) release() {
	e.once.Do(func() {
		e.backend.untrack(e)
		_ = e.decoder.Close()
	})
}
