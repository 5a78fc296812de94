package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// Providers holds one value per pipeline stage. main.go builds it with
// [BuildProviders]; tests fill it with mocks.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider
	VAD vad.Engine

	// LLMName and STTName label stage metrics.
	LLMName string
	STTName string

	// Breakers guard the configured backends, primaries first. They are
	// reported on /readyz.
	Breakers []*resilience.Breaker
}

// BuildProviders creates every configured backend from reg and puts each
// stage behind a circuit-breaking fallback group. Breaker transitions are
// logged and, when m is non-nil, counted.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	bc := resilience.BreakerConfig{
		MaxFailures:  cfg.Providers.Breaker.MaxFailures,
		ResetTimeout: cfg.Providers.Breaker.ResetTimeout,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("provider circuit changed state", "provider", name, "from", from.String(), "to", to.String())
			if m != nil {
				m.RecordBreakerTransition(context.Background(), name, to.String())
			}
		},
	}
	ps := &Providers{
		LLMName: cfg.Providers.LLM.Name,
		STTName: cfg.Providers.STT.Name,
	}

	llmGroup := resilience.NewGroup[llm.Provider](bc)
	names, err := fill(llmGroup, "llm", cfg.Providers.LLM, cfg.Providers.LLMFallback, reg.CreateLLM)
	if err != nil {
		return nil, err
	}
	ps.Breakers = append(ps.Breakers, breakers(llmGroup, names)...)
	ps.LLM = resilience.NewLLMFallback(llmGroup)

	sttGroup := resilience.NewGroup[stt.Provider](bc)
	names, err = fill(sttGroup, "stt", cfg.Providers.STT, cfg.Providers.STTFallback, reg.CreateSTT)
	if err != nil {
		return nil, err
	}
	ps.Breakers = append(ps.Breakers, breakers(sttGroup, names)...)
	ps.STT = resilience.NewSTTFallback(sttGroup)

	ttsGroup := resilience.NewGroup[tts.Provider](bc)
	names, err = fill(ttsGroup, "tts", cfg.Providers.TTS, cfg.Providers.TTSFallback, reg.CreateTTS)
	if err != nil {
		return nil, err
	}
	ps.Breakers = append(ps.Breakers, breakers(ttsGroup, names)...)
	ps.TTS = resilience.NewTTSFallback(ttsGroup)

	ps.VAD, err = reg.CreateVAD(config.ProviderEntry{Name: cfg.VAD.Engine})
	if err != nil {
		return nil, fmt.Errorf("app: vad: %w", err)
	}
	return ps, nil
}

// fill adds primary and fallbacks to g. Members are named kind/provider,
// suffixed with their position when a provider appears twice.
func fill[T any](g *resilience.Group[T], kind string, primary config.ProviderEntry, fallbacks []config.ProviderEntry, create func(config.ProviderEntry) (T, error)) ([]string, error) {
	entries := append([]config.ProviderEntry{primary}, fallbacks...)
	seen := make(map[string]bool, len(entries))
	names := make([]string, 0, len(entries))
	for i, e := range entries {
		p, err := create(e)
		if err != nil {
			if i == 0 {
				return nil, fmt.Errorf("app: %s: %w", kind, err)
			}
			return nil, fmt.Errorf("app: %s fallback %d: %w", kind, i, err)
		}
		name := kind + "/" + e.Name
		if seen[name] {
			name = fmt.Sprintf("%s#%d", name, i)
		}
		seen[name] = true
		g.Add(name, p)
		names = append(names, name)
		slog.Debug("provider configured", "kind", kind, "name", name, "model", e.Model)
	}
	return names, nil
}

func breakers[T any](g *resilience.Group[T], names []string) []*resilience.Breaker {
	out := make([]*resilience.Breaker, 0, len(names))
	for _, n := range names {
		if b := g.Breaker(n); b != nil {
			out = append(out, b)
		}
	}
	return out
}
