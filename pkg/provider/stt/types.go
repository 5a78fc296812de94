package stt

import "time"

// Transcript is the result of one transcription.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the detected or requested language, if reported.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64

	// Duration is the length of the transcribed audio, if reported.
	Duration time.Duration
}
