// Package vad defines voice activity detection for parley.
//
// Two layers live here:
//
//   - [Engine] and [SessionHandle] wrap a frame-level speech detector. A
//     session is fed fixed-size PCM frames and answers speech/silence per
//     frame.
//   - [Monitor] is the listening component the rest of the system talks to.
//     It subscribes to a microphone stream, slices it into frames for an
//     engine session, publishes volume and spectrum for the interruption
//     classifier, calibrates to the room's noise floor, and announces speech
//     start and end.
//
// [Listener] is the standard Monitor. Engines live in sub-packages.
package vad

import (
	"context"

	"github.com/MrWong99/parley/pkg/audio"
)

// Config holds the parameters for a VAD session. All numeric thresholds are
// expressed in the engine's native scale; see each Engine's documentation for
// recommended starting values.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to ProcessFrame. Common values: 8000, 16000, 48000.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	// ProcessFrame returns an error if the supplied frame does not match it.
	FrameSizeMs int

	// SpeechThreshold is the score at or above which a frame counts as speech.
	SpeechThreshold float64

	// SilenceThreshold is the score below which a frame counts as silence.
	// Must be <= SpeechThreshold.
	SilenceThreshold float64
}

// FrameBytes returns the size in bytes of one mono int16 frame.
func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameSizeMs / 1000 * 2
}

// SessionHandle is an active VAD session for a single audio stream. A
// SessionHandle should not be shared between goroutines unless the
// implementation explicitly guarantees concurrent safety.
type SessionHandle interface {
	// ProcessFrame analyses a single mono little-endian PCM frame of the
	// configured size. It must not block.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears accumulated detection state without closing the session.
	Reset()

	// Close releases the session. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions. Implementations must be safe for
// concurrent use.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}

// Monitor listens to a microphone and reports voice activity. Implementations
// must be safe for concurrent use. Speech callbacks run on the capture
// goroutine and must not block.
type Monitor interface {
	// Volume returns the most recent normalised RMS volume.
	Volume() float64

	// Threshold returns the volume at which speech is detected.
	Threshold() float64

	// SetThreshold changes the speech volume threshold.
	SetThreshold(v float64)

	// IsListening reports whether a stream is being analysed.
	IsListening() bool

	// StartListening begins analysing stream. Returns an error if the
	// stream has no live track or the detector cannot be created.
	StartListening(stream audio.Stream) error

	// StopListening stops analysing. Idempotent.
	StopListening()

	// Calibrate measures the noise floor and derives a new threshold. It
	// blocks until calibration completes or ctx is done.
	Calibrate(ctx context.Context) error

	// IsCalibrating reports whether a calibration is running.
	IsCalibrating() bool

	// CalibrationProgress returns calibration completion in percent (0..100).
	CalibrationProgress() int

	// Stream returns the stream being analysed, or nil.
	Stream() audio.Stream

	// SpeechActive returns 1 while speech is detected, else 0.
	SpeechActive() int

	// SpeechEndCount returns how many speech segments have ended.
	SpeechEndCount() int

	// Sample returns the latest volume and spectrum.
	Sample() Snapshot

	// OnSpeechStart registers fn to run when speech begins. Only one
	// handler may be registered; later calls replace earlier ones.
	OnSpeechStart(fn func())

	// OnSpeechEnd registers fn to run when speech ends. Only one handler
	// may be registered; later calls replace earlier ones.
	OnSpeechEnd(fn func())
}
