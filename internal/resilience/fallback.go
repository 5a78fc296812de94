package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// STTFallback is an [stt.Provider] that fails over across a [Group].
type STTFallback struct {
	group *Group[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback wraps group.
func NewSTTFallback(group *Group[stt.Provider]) *STTFallback {
	return &STTFallback{group: group}
}

// Transcribe returns the first successful transcript.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	out, _, err := Do(ctx, f.group, func(ctx context.Context, p stt.Provider) (stt.Transcript, error) {
		return p.Transcribe(ctx, req)
	})
	return out, err
}

// LLMFallback is an [llm.Provider] that fails over across a [Group]. Only
// stream setup is covered; a stream that fails midway is not retried.
type LLMFallback struct {
	group *Group[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback wraps group.
func NewLLMFallback(group *Group[llm.Provider]) *LLMFallback {
	return &LLMFallback{group: group}
}

// StreamCompletion implements [llm.Provider].
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	out, _, err := Do(ctx, f.group, func(ctx context.Context, p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
	return out, err
}

// Complete implements [llm.Provider].
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	out, _, err := Do(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
	return out, err
}

// CountTokens uses the primary's tokenizer.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	if _, p, ok := f.group.Primary(); ok {
		return p.CountTokens(messages)
	}
	return llm.EstimateTokens(messages), nil
}

// Capabilities reports the primary's limits.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	if _, p, ok := f.group.Primary(); ok {
		return p.Capabilities()
	}
	return llm.ModelCapabilities{}
}

// TTSFallback is a [tts.Provider] that fails over across a [Group]. The
// returned Speech names the member that actually synthesized it, so the
// playback queue applies that source's settle delay.
type TTSFallback struct {
	group *Group[tts.Provider]
}

var (
	_ tts.Provider    = (*TTSFallback)(nil)
	_ tts.VoiceLister = (*TTSFallback)(nil)
)

// NewTTSFallback wraps group.
func NewTTSFallback(group *Group[tts.Provider]) *TTSFallback {
	return &TTSFallback{group: group}
}

// Name returns the primary's name.
func (f *TTSFallback) Name() string {
	if _, p, ok := f.group.Primary(); ok {
		return p.Name()
	}
	return ""
}

// Synthesize implements [tts.Provider].
func (f *TTSFallback) Synthesize(ctx context.Context, text, voice string) (tts.Speech, error) {
	var source string
	out, _, err := Do(ctx, f.group, func(ctx context.Context, p tts.Provider) (tts.Speech, error) {
		source = p.Name()
		return p.Synthesize(ctx, text, voice)
	})
	if err != nil {
		return tts.Speech{}, err
	}
	if out.Source == "" {
		out.Source = source
	}
	return out, nil
}

// ListVoices asks the first member that can list voices. Members without
// a voice catalogue are skipped without touching their breakers.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	for i := range f.group.members {
		m := &f.group.members[i]
		vl, ok := m.value.(tts.VoiceLister)
		if !ok {
			continue
		}
		var out []tts.VoiceProfile
		err := m.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			out, err = vl.ListVoices(ctx)
			return err
		})
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: no voice catalogue available", ErrAllFailed)
}
