package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// [Validate] warns about names missing from it.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"openai", "deepgram", "whisper"},
	"tts": {"elevenlabs", "openai", "coqui"},
	"vad": {"energy"},
}

// Load reads the YAML file at path on top of [Default] and validates it.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r on top of [Default] and validates the
// result. Unknown keys are rejected. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg for coherence and returns every problem it finds,
// joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vad", cfg.VAD.Engine)
	for i, e := range cfg.Providers.LLMFallback {
		errs = append(errs, requireName(fmt.Sprintf("providers.llm_fallback[%d]", i), e))
		validateProviderName("llm", e.Name)
	}
	for i, e := range cfg.Providers.STTFallback {
		errs = append(errs, requireName(fmt.Sprintf("providers.stt_fallback[%d]", i), e))
		validateProviderName("stt", e.Name)
	}
	for i, e := range cfg.Providers.TTSFallback {
		errs = append(errs, requireName(fmt.Sprintf("providers.tts_fallback[%d]", i), e))
		validateProviderName("tts", e.Name)
	}
	if cfg.Providers.Breaker.MaxFailures < 0 || cfg.Providers.Breaker.ResetTimeout < 0 {
		errs = append(errs, errors.New("providers.breaker values must not be negative"))
	}

	a := cfg.Assistant
	if a.Temperature < 0 || a.Temperature > 2 {
		errs = append(errs, fmt.Errorf("assistant.temperature %.2f is out of range [0, 2]", a.Temperature))
	}
	if a.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("assistant.max_tokens %d must not be negative", a.MaxTokens))
	}
	if a.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("assistant.tick_interval must be positive, got %v", a.TickInterval))
	}

	p := cfg.Playback
	if p.PrimarySettle < 0 || p.OtherSettle < 0 || p.Cooldown < 0 {
		errs = append(errs, errors.New("playback delays must not be negative"))
	}
	if p.Rate <= 0 || p.Rate > 4 {
		errs = append(errs, fmt.Errorf("playback.rate %.2f is out of range (0, 4]", p.Rate))
	}

	if err := cfg.Interruption.Classifier().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("interruption: %w", err))
	}

	if cfg.Recorder.MaxManualDuration <= 0 {
		errs = append(errs, fmt.Errorf("recorder.max_manual_duration must be positive, got %v", cfg.Recorder.MaxManualDuration))
	}

	v := cfg.VAD
	if v.Threshold <= 0 || v.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %v is out of range (0, 1)", v.Threshold))
	}
	if v.FrameMs != 10 && v.FrameMs != 20 && v.FrameMs != 30 {
		errs = append(errs, fmt.Errorf("vad.frame_ms %d is invalid; valid values: 10, 20, 30", v.FrameMs))
	}
	if v.AdaptiveFactor < 0 || v.AdaptiveFactor >= 1 {
		errs = append(errs, fmt.Errorf("vad.adaptive_factor %v is out of range [0, 1)", v.AdaptiveFactor))
	}

	if cfg.Audio.SampleRate < 8000 || cfg.Audio.SampleRate > 48000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is out of range [8000, 48000]", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FramesPerBuffer <= 0 {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer must be positive, got %d", cfg.Audio.FramesPerBuffer))
	}

	if cfg.Memory.MaxTokens < 0 || cfg.Memory.RestoreMessages < 0 {
		errs = append(errs, errors.New("memory values must not be negative"))
	}
	if cfg.Memory.PostgresDSN == "" {
		slog.Debug("memory.postgres_dsn is empty; history is kept in process memory only")
	}

	if cfg.Providers.TTS.Name != "" && p.PrimarySource != cfg.Providers.TTS.Name && p.PrimarySource != "" {
		slog.Warn("playback.primary_source does not match the configured TTS provider",
			"primary_source", p.PrimarySource,
			"tts_provider", cfg.Providers.TTS.Name,
		)
	}

	return errors.Join(errs...)
}

func requireName(prefix string, e ProviderEntry) error {
	if e.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	return nil
}

// validateProviderName logs a warning if name is non-empty and unknown for
// kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
