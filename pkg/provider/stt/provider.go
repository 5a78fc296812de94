// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider turns one finished recording into text. Recordings arrive as an
// encoded audio file (usually WAV from the recorder) together with its MIME
// type, and the provider returns the full transcript in one call.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyAudio is returned by Transcribe for a request without audio.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Request is one transcription job.
type Request struct {
	// Audio is the encoded recording.
	Audio []byte

	// MIME is the media type of Audio (e.g. "audio/wav", "audio/webm").
	MIME string

	// Language is a BCP-47 language hint. Empty lets the provider detect it.
	Language string

	// Prompt is optional context that biases recognition towards expected
	// vocabulary. Providers that do not support prompts ignore it.
	Prompt string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe returns the transcript of req.Audio. It returns
	// ErrEmptyAudio if there is nothing to transcribe and a wrapped provider
	// error if the backend fails or ctx is cancelled.
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}

// FileName returns a file name whose extension matches mime, for backends
// that infer the container from multipart file names.
func FileName(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	switch strings.TrimSpace(mime) {
	case "audio/webm":
		return "audio.webm"
	case "audio/ogg":
		return "audio.ogg"
	case "audio/mpeg", "audio/mp3":
		return "audio.mp3"
	case "audio/mp4", "audio/m4a":
		return "audio.m4a"
	case "audio/flac":
		return "audio.flac"
	default:
		return "audio.wav"
	}
}
