package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override, e.g. PARLEY_OPENAI_API_KEY.
const EnvPrefix = "parley"

// Env holds the settings that may come from the environment instead of the
// YAML file. Secrets belong here.
type Env struct {
	OpenAIAPIKey     string `envconfig:"OPENAI_API_KEY"`
	AnthropicAPIKey  string `envconfig:"ANTHROPIC_API_KEY"`
	GeminiAPIKey     string `envconfig:"GEMINI_API_KEY"`
	ElevenLabsAPIKey string `envconfig:"ELEVENLABS_API_KEY"`
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY"`
	PostgresDSN      string `envconfig:"POSTGRES_DSN"`
	LogLevel         string `envconfig:"LOG_LEVEL"`
	MetricsAddr      string `envconfig:"METRICS_ADDR"`
}

// LoadEnv reads envFile into the process environment when it exists (an
// empty name means ".env") and then processes PARLEY_* variables. Variables
// already set in the environment win over the file.
func LoadEnv(envFile string) (Env, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Env{}, fmt.Errorf("config: load %q: %w", envFile, err)
	}
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return Env{}, fmt.Errorf("config: environment: %w", err)
	}
	return env, nil
}

// Apply copies non-empty environment values into cfg. API keys only fill
// provider entries that do not set one in YAML.
func (e Env) Apply(cfg *Config) {
	if e.PostgresDSN != "" {
		cfg.Memory.PostgresDSN = e.PostgresDSN
	}
	if e.LogLevel != "" {
		cfg.Server.LogLevel = LogLevel(e.LogLevel)
	}
	if e.MetricsAddr != "" {
		cfg.Server.MetricsAddr = e.MetricsAddr
	}

	fill := func(p *ProviderEntry) {
		if p.APIKey != "" {
			return
		}
		if key := e.keyFor(p.Name); key != "" {
			p.APIKey = key
		}
	}
	fill(&cfg.Providers.LLM)
	fill(&cfg.Providers.STT)
	fill(&cfg.Providers.TTS)
	for _, list := range [][]ProviderEntry{cfg.Providers.LLMFallback, cfg.Providers.STTFallback, cfg.Providers.TTSFallback} {
		for i := range list {
			fill(&list[i])
		}
	}
}

func (e Env) keyFor(provider string) string {
	switch provider {
	case "openai":
		return e.OpenAIAPIKey
	case "anthropic":
		return e.AnthropicAPIKey
	case "gemini":
		return e.GeminiAPIKey
	case "elevenlabs":
		return e.ElevenLabsAPIKey
	case "deepgram":
		return e.DeepgramAPIKey
	}
	return ""
}
