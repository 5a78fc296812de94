// Package openai provides a TTS provider backed by the OpenAI speech API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// Name is the source name reported in tts.Speech.
const Name = "openai"

const (
	// DefaultModel is the default OpenAI speech model.
	DefaultModel = "tts-1"

	// DefaultVoice is used when Synthesize is called without a voice.
	DefaultVoice = "alloy"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	voice  string
	format string
	speed  float64
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
	voice   string
	format  string
	speed   float64
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithVoice sets the default voice (e.g. "alloy", "nova").
func WithVoice(voice string) Option {
	return func(c *config) {
		c.voice = voice
	}
}

// WithFormat selects the response container: "mp3" (default) or "wav".
func WithFormat(format string) Option {
	return func(c *config) {
		c.format = format
	}
}

// WithSpeed sets the speaking rate in [0.25, 4.0]. Zero keeps the API default.
func WithSpeed(speed float64) Option {
	return func(c *config) {
		c.speed = speed
	}
}

// New constructs a new OpenAI TTS Provider.
// If model is empty, DefaultModel is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{voice: DefaultVoice, format: "mp3"}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.format != "mp3" && cfg.format != "wav" {
		return nil, fmt.Errorf("openai tts: unsupported format %q", cfg.format)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		voice:  cfg.voice,
		format: cfg.format,
		speed:  cfg.speed,
	}, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return Name }

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) (tts.Speech, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return tts.Speech{}, tts.ErrEmptyText
	}
	if voice == "" {
		voice = p.voice
	}

	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormat(p.format),
	}
	if p.speed > 0 {
		params.Speed = oai.Float(p.speed)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("openai tts: synthesize: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("openai tts: read audio: %w", err)
	}
	if len(data) == 0 {
		return tts.Speech{}, errors.New("openai tts: empty audio response")
	}

	mime := "audio/mpeg"
	if p.format == "wav" {
		mime = audio.MIMEWAV
	}
	return tts.Speech{Data: data, MIME: mime, Source: Name}, nil
}
