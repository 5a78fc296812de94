// Package energy is a volume-threshold [vad.Engine].
//
// A frame is speech when its normalised RMS reaches the session's speech
// threshold. Speech starts after a short run of loud frames and ends after a
// longer run (the hangover) of frames below the silence threshold, so brief
// pauses between words do not split an utterance.
//
// Thresholds are RMS volumes in [0, 1]. Reasonable starting values for a
// close microphone are 0.02 (speech) and 0.014 (silence).
package energy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// ErrFrameSize is returned by ProcessFrame for frames of the wrong length.
var ErrFrameSize = errors.New("energy: frame size mismatch")

// DefaultConfig returns 16 kHz, 20 ms frames with close-microphone thresholds.
func DefaultConfig() vad.Config {
	return vad.Config{
		SampleRate:       16000,
		FrameSizeMs:      20,
		SpeechThreshold:  0.02,
		SilenceThreshold: 0.014,
	}
}

// Option configures an [Engine].
type Option func(*Engine)

// WithStartFrames sets how many consecutive loud frames start speech.
// Default 2.
func WithStartFrames(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.startFrames = n
		}
	}
}

// WithHangoverFrames sets how many consecutive quiet frames end speech.
// Default 25 (500 ms of 20 ms frames).
func WithHangoverFrames(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.hangover = n
		}
	}
}

// Engine creates energy sessions. Safe for concurrent use.
type Engine struct {
	startFrames int
	hangover    int
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// New returns an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{startFrames: 2, hangover: 25}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	var errs []error
	if cfg.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("energy: sample rate must be positive, got %d", cfg.SampleRate))
	}
	if cfg.FrameSizeMs <= 0 {
		errs = append(errs, fmt.Errorf("energy: frame size must be positive, got %d ms", cfg.FrameSizeMs))
	}
	if cfg.SpeechThreshold <= 0 || cfg.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("energy: speech threshold must be in (0, 1], got %v", cfg.SpeechThreshold))
	}
	if cfg.SilenceThreshold > cfg.SpeechThreshold {
		errs = append(errs, fmt.Errorf("energy: silence threshold %v exceeds speech threshold %v", cfg.SilenceThreshold, cfg.SpeechThreshold))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Session{
		frameBytes:  cfg.FrameBytes(),
		speech:      cfg.SpeechThreshold,
		silence:     cfg.SilenceThreshold,
		startFrames: e.startFrames,
		hangover:    e.hangover,
	}, nil
}

// Session is an energy VAD session. Safe for concurrent use.
type Session struct {
	mu          sync.Mutex
	frameBytes  int
	speech      float64
	silence     float64
	startFrames int
	hangover    int

	speaking bool
	loud     int
	quiet    int
	closed   bool
}

// Ensure Session implements vad.SessionHandle and vad.ThresholdSetter at
// compile time.
var (
	_ vad.SessionHandle   = (*Session)(nil)
	_ vad.ThresholdSetter = (*Session)(nil)
)

// ProcessFrame implements [vad.SessionHandle]. Probability is the frame's RMS.
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, errors.New("energy: session closed")
	}
	if len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(frame), s.frameBytes)
	}

	rms := audio.RMS(audio.Float64s(frame))
	ev := vad.VADEvent{Probability: rms}

	if !s.speaking {
		if rms >= s.speech {
			s.loud++
		} else {
			s.loud = 0
		}
		if s.loud >= s.startFrames {
			s.speaking, s.loud, s.quiet = true, 0, 0
			ev.Type = vad.VADSpeechStart
			return ev, nil
		}
		ev.Type = vad.VADSilence
		return ev, nil
	}

	if rms < s.silence {
		s.quiet++
	} else {
		s.quiet = 0
	}
	if s.quiet >= s.hangover {
		s.speaking, s.quiet = false, 0
		ev.Type = vad.VADSpeechEnd
		return ev, nil
	}
	ev.Type = vad.VADSpeechContinue
	return ev, nil
}

// SetThresholds implements [vad.ThresholdSetter].
func (s *Session) SetThresholds(speech, silence float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speech, s.silence = speech, min(silence, speech)
}

// Reset implements [vad.SessionHandle].
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking, s.loud, s.quiet = false, 0, 0
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
