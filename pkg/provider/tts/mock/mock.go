// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled speech to consumers and to verify which
// sentences and voices were passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{NameResult: "elevenlabs"}
//	speech, _ := p.Synthesize(ctx, "Hello.", "v1")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the voice passed to Synthesize.
	Voice string
}

// Provider is a mock implementation of tts.Provider and tts.VoiceLister.
type Provider struct {
	mu sync.Mutex

	// NameResult is returned by Name and used as Speech.Source when Speech
	// is nil.
	NameResult string

	// Speech, if non-nil, builds the result for each call. When nil the
	// result is a WAV-typed Speech whose Data is the text itself.
	Speech func(text string) tts.Speech

	// Errs maps a sentence to the error returned for it.
	Errs map[string]error

	// SynthesizeErr, if non-nil, is returned for every call.
	SynthesizeErr error

	// Block, if non-nil, makes Synthesize wait until it is closed or the
	// context is done.
	Block chan struct{}

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned by ListVoices.
	ListVoicesErr error

	// SynthesizeCalls records every invocation of Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Name implements tts.Provider.
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.NameResult
}

// Synthesize records the call and returns the scripted speech.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) (tts.Speech, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return tts.Speech{}, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SynthesizeErr != nil {
		return tts.Speech{}, p.SynthesizeErr
	}
	if err := p.Errs[text]; err != nil {
		return tts.Speech{}, err
	}
	if p.Speech != nil {
		return p.Speech(text), nil
	}
	return tts.Speech{Data: []byte(text), MIME: "audio/wav", Source: p.NameResult}, nil
}

// ListVoices implements tts.VoiceLister.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ListVoicesResult, p.ListVoicesErr
}

// Texts returns the text of every Synthesize call in order. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SynthesizeCalls))
	for i, c := range p.SynthesizeCalls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}

// Compile-time interface assertions.
var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)
