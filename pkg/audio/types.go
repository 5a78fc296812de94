// Package audio defines the value types shared by parley's capture and
// playback components.
//
// Capture side: a [Stream] delivers [AudioFrame] values from a microphone to
// subscribers (the recording controller and the voice-activity monitor).
//
// Playback side: speech synthesis produces one [PlaybackItem] per sentence.
// The item's URI points into an in-memory blob store; the playback queue owns
// the item until it has been played or discarded, after which the URI is
// revoked. The player publishes the currently audible item as a [Handle].
package audio

import "time"

// AudioFrame is one chunk of little-endian int16 PCM captured from a [Stream].
type AudioFrame struct {
	// Data holds interleaved PCM samples.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for speech capture).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of PCM audio.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the data rate of int16 PCM in this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Duration returns how long n bytes of int16 PCM in this format play for.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// Stream is a live microphone capture. Implementations call subscriber
// callbacks from their own capture goroutine; consumers that run on the event
// loop must marshal frames onto it themselves.
type Stream interface {
	// Live reports whether the stream currently has a live input track.
	// Starting a recording on a stream that is not live is a no-op.
	Live() bool

	// Format reports the PCM format of delivered frames.
	Format() Format

	// Subscribe registers fn to receive every captured frame until the
	// returned function is called. The unsubscribe function is idempotent.
	Subscribe(fn func(AudioFrame)) (unsubscribe func())
}

// PlaybackItem is one synthesized speech fragment, typically a sentence.
type PlaybackItem struct {
	// Text is the sentence that was synthesized. Used for logging only.
	Text string

	// URI locates the encoded audio in the blob store.
	URI string

	// Source names the synthesis provider that produced the audio. It selects
	// the settling delay applied before the item is played.
	Source string
}

// Handle describes the element the player is currently sounding. It is a
// read-only snapshot; holding a Handle never keeps audio alive.
type Handle struct {
	// ID is unique per Play call.
	ID uint64

	// URI of the audio being played.
	URI string

	// Rate is the playback speed multiplier (1.0 = normal).
	Rate float64

	// Started is when output began.
	Started time.Time
}
