// Package mock provides an in-memory [audio.Stream] for unit tests.
//
// The stream is safe for concurrent use. Tests control liveness through the
// exported fields, push frames with [Stream.Emit], and inspect subscription
// counts afterwards.
//
// Typical usage:
//
//	mic := &mock.Stream{LiveResult: true, FormatResult: audio.Format{SampleRate: 16000, Channels: 1}}
//	rec.Start(mic)
//	mic.Emit(audio.AudioFrame{Data: pcm, SampleRate: 16000, Channels: 1})
package mock

import (
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
)

// Stream is a mock implementation of [audio.Stream].
// Set the exported Result fields before use; inspect the Call* fields after.
type Stream struct {
	mu sync.Mutex

	// LiveResult is returned by [Stream.Live].
	LiveResult bool

	// FormatResult is returned by [Stream.Format].
	FormatResult audio.Format

	// CallCountSubscribe records how many times Subscribe was called.
	CallCountSubscribe int

	// CallCountUnsubscribe records how many subscriptions were cancelled.
	CallCountUnsubscribe int

	nextID int
	subs   map[int]func(audio.AudioFrame)
}

// Live implements [audio.Stream].
func (s *Stream) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LiveResult
}

// Format implements [audio.Stream].
func (s *Stream) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FormatResult
}

// Subscribe implements [audio.Stream].
func (s *Stream) Subscribe(fn func(audio.AudioFrame)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]func(audio.AudioFrame))
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.CallCountSubscribe++

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			s.CallCountUnsubscribe++
		})
	}
}

// Emit delivers frame to every current subscriber on the calling goroutine.
func (s *Stream) Emit(frame audio.AudioFrame) {
	s.mu.Lock()
	fns := make([]func(audio.AudioFrame), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(frame)
	}
}

// Subscribers returns the number of active subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Ensure Stream implements audio.Stream at compile time.
var _ audio.Stream = (*Stream)(nil)
