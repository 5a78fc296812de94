// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs, OpenAI,
// or a local Coqui server) and turns one sentence into one playable audio
// file. The assistant synthesises replies sentence by sentence, so each call
// is short and the first sentence can play while later ones are still being
// produced.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrEmptyText is returned by Synthesize for blank input.
var ErrEmptyText = errors.New("tts: empty text")

// Speech is one synthesised utterance.
type Speech struct {
	// Data is the encoded audio file.
	Data []byte

	// MIME is the media type of Data (e.g. "audio/wav", "audio/mpeg").
	MIME string

	// Source names the provider that produced the audio. Playback uses it to
	// pick the settling delay, so fallbacks must report the provider that
	// actually answered.
	Source string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Name returns the provider's source name as reported in Speech.Source.
	Name() string

	// Synthesize renders text in the given voice. voice is provider-specific
	// (a voice ID or name); empty selects the provider default.
	//
	// Returns ErrEmptyText for blank text and a wrapped provider error if
	// synthesis fails or ctx is cancelled.
	Synthesize(ctx context.Context, text, voice string) (Speech, error)
}

// VoiceLister is implemented by providers that can enumerate their voices.
type VoiceLister interface {
	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
