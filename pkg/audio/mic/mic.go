// Package mic captures the default input device through PortAudio and
// exposes it as an [audio.Stream].
//
// A Mic is live between a successful [Mic.Open] and [Mic.Close]. Frames are
// delivered to subscribers on the capture goroutine as 16-bit little-endian
// PCM.
package mic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/parley/pkg/audio"
)

// ErrAlreadyOpen is returned by Open on a Mic that is already capturing.
var ErrAlreadyOpen = errors.New("mic: already open")

// device is the subset of *portaudio.Stream used by Mic.
type device interface {
	Start() error
	Read() error
	Stop() error
	Close() error
}

// openFunc opens an input device that reads into buf.
type openFunc func(sampleRate float64, buf []int16) (device, error)

// Option configures a [Mic].
type Option func(*Mic)

// WithSampleRate sets the capture rate in Hz. Default 16000.
func WithSampleRate(hz int) Option {
	return func(m *Mic) {
		if hz > 0 {
			m.sampleRate = hz
		}
	}
}

// WithFramesPerBuffer sets how many samples each Read delivers. Default 800
// (50ms at 16kHz).
func WithFramesPerBuffer(n int) Option {
	return func(m *Mic) {
		if n > 0 {
			m.frames = n
		}
	}
}

// Mic is a PortAudio capture stream.
type Mic struct {
	sampleRate int
	frames     int
	open       openFunc
	terminate  func() error

	fan  audio.Fanout
	live atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Ensure Mic implements audio.Stream at compile time.
var _ audio.Stream = (*Mic)(nil)

// New returns a closed Mic.
func New(opts ...Option) *Mic {
	m := &Mic{
		sampleRate: 16000,
		frames:     800,
		open:       openDefault,
		terminate:  portaudio.Terminate,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func openDefault(sampleRate float64, buf []int16) (device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	s, err := portaudio.OpenDefaultStream(1, 0, sampleRate, len(buf), buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open default input: %w", err)
	}
	return s, nil
}

// Live implements [audio.Stream].
func (m *Mic) Live() bool { return m.live.Load() }

// Format implements [audio.Stream].
func (m *Mic) Format() audio.Format {
	return audio.Format{SampleRate: m.sampleRate, Channels: 1}
}

// Subscribe implements [audio.Stream].
func (m *Mic) Subscribe(fn func(audio.AudioFrame)) func() {
	return m.fan.Subscribe(fn)
}

// Open starts capturing from the default input device. Capture continues
// until ctx is cancelled or Close is called.
func (m *Mic) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		return ErrAlreadyOpen
	}

	buf := make([]int16, m.frames)
	dev, err := m.open(float64(m.sampleRate), buf)
	if err != nil {
		return fmt.Errorf("mic: %w", err)
	}
	if err := dev.Start(); err != nil {
		_ = dev.Close()
		m.shutdown()
		return fmt.Errorf("mic: start: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.live.Store(true)
	slog.Info("mic: capturing", "sample_rate", m.sampleRate, "frames_per_buffer", m.frames)

	go m.capture(ctx, dev, buf, m.done)
	return nil
}

// Close stops capturing and releases the device. Idempotent.
func (m *Mic) Close() error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (m *Mic) shutdown() {
	if err := m.terminate(); err != nil {
		slog.Warn("mic: terminate portaudio", "err", err)
	}
}

func (m *Mic) capture(ctx context.Context, dev device, buf []int16, done chan struct{}) {
	defer close(done)
	defer func() {
		m.live.Store(false)
		if err := dev.Stop(); err != nil {
			slog.Warn("mic: stop", "err", err)
		}
		if err := dev.Close(); err != nil {
			slog.Warn("mic: close", "err", err)
		}
		m.shutdown()
		slog.Info("mic: capture stopped")
	}()

	started := time.Now()
	for ctx.Err() == nil {
		if err := dev.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				slog.Debug("mic: input overflowed")
			} else {
				slog.Warn("mic: read failed", "err", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(100 * time.Millisecond):
				}
				continue
			}
		}

		data := make([]byte, len(buf)*2)
		for i, s := range buf {
			data[i*2] = byte(s)
			data[i*2+1] = byte(s >> 8)
		}
		m.fan.Publish(audio.AudioFrame{
			Data:       data,
			SampleRate: m.sampleRate,
			Channels:   1,
			Timestamp:  time.Since(started),
		})
	}
}
