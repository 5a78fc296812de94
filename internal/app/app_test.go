package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/assistant"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/audio"
	audiomock "github.com/MrWong99/parley/pkg/audio/mock"
	playermock "github.com/MrWong99/parley/pkg/audio/player/mock"
	memorymock "github.com/MrWong99/parley/pkg/memory/mock"
	"github.com/MrWong99/parley/pkg/provider/llm"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
	"github.com/MrWong99/parley/pkg/provider/stt"
	sttmock "github.com/MrWong99/parley/pkg/provider/stt/mock"
	"github.com/MrWong99/parley/pkg/provider/tts"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
	"github.com/MrWong99/parley/pkg/provider/vad"
	vadmock "github.com/MrWong99/parley/pkg/provider/vad/mock"
)

// testConfig returns the default config without a metrics listener.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.MetricsAddr = ""
	cfg.Providers.LLM = config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"}
	cfg.Providers.STT = config.ProviderEntry{Name: "whisper"}
	cfg.Providers.TTS = config.ProviderEntry{Name: "elevenlabs"}
	return cfg
}

// testProviders returns providers backed by mocks.
func testProviders() *app.Providers {
	return &app.Providers{
		LLM:     &llmmock.Provider{},
		STT:     &sttmock.Provider{},
		TTS:     &ttsmock.Provider{NameResult: "elevenlabs"},
		LLMName: "openai",
		STTName: "whisper",
	}
}

func testAudio(live bool) app.Audio {
	return app.Audio{
		Stream:  &audiomock.Stream{LiveResult: live, FormatResult: audio.Format{SampleRate: 16000, Channels: 1}},
		Backend: &playermock.Backend{},
	}
}

func testRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterLLM("openai", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	reg.RegisterSTT("whisper", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
	reg.RegisterTTS("elevenlabs", func(config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{NameResult: "elevenlabs"}, nil
	})
	reg.RegisterTTS("coqui", func(config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{NameResult: "coqui"}, nil
	})
	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) { return &vadmock.Engine{}, nil })
	return reg
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Providers.TTSFallback = []config.ProviderEntry{{Name: "coqui"}, {Name: "coqui"}}

	ps, err := app.BuildProviders(cfg, testRegistry(), nil)
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if ps.LLMName != "openai" || ps.STTName != "whisper" {
		t.Errorf("names = %q, %q", ps.LLMName, ps.STTName)
	}
	if ps.VAD == nil {
		t.Error("VAD engine not built")
	}
	if got := ps.TTS.Name(); got != "elevenlabs" {
		t.Errorf("TTS.Name() = %q, want the primary", got)
	}

	var names []string
	for _, b := range ps.Breakers {
		names = append(names, b.Name())
	}
	want := []string{"llm/openai", "stt/whisper", "tts/elevenlabs", "tts/coqui", "tts/coqui#2"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("breakers = %v, want %v", names, want)
	}
}

func TestBuildProviders_UnknownProvider(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Providers.STTFallback = []config.ProviderEntry{{Name: "nope"}}

	_, err := app.BuildProviders(cfg, testRegistry(), nil)
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
	if !strings.Contains(err.Error(), "stt fallback 1") {
		t.Errorf("err = %q, want the fallback position", err)
	}
}

func TestNew_RequiresAudio(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), testConfig(), testProviders(), app.Audio{},
		app.WithMemoryStore(&memorymock.Store{}), app.WithMonitor(&vadmock.Monitor{}))
	if err == nil {
		t.Fatal("New() without audio devices succeeded")
	}
}

func TestNew_RequiresVADWithoutMonitor(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), testConfig(), testProviders(), testAudio(true),
		app.WithMemoryStore(&memorymock.Store{}))
	if err == nil {
		t.Fatal("New() without a vad engine or monitor succeeded")
	}
}

func TestRunShutdown(t *testing.T) {
	t.Parallel()

	monitor := &vadmock.Monitor{}
	store := &memorymock.Store{}
	a, err := app.New(context.Background(), testConfig(), testProviders(), testAudio(true),
		app.WithMemoryStore(store), app.WithMonitor(monitor))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	waitFor(t, func() bool {
		st, err := a.Status(context.Background())
		return err == nil && st.Listening
	})

	old := a.Config()
	next := *old
	next.VAD.Threshold = 0.05
	next.Assistant.Voice = "adam"
	a.ApplyConfig(old, &next)

	waitFor(t, func() bool {
		var voice string
		err := a.Call(context.Background(), func(as *assistant.Assistant) { voice = as.Config().Voice })
		return err == nil && voice == "adam" && monitor.Threshold() == 0.05
	})
	if a.Config() != &next {
		t.Error("Config() does not return the applied config")
	}

	cancel()
	select {
	case err := <-runErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := a.Shutdown(sctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if monitor.StopCalls == 0 {
		t.Error("monitor still listening after Shutdown")
	}
	if err := a.Shutdown(sctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestShutdownWithoutRun(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), testProviders(), testAudio(true),
		app.WithMemoryStore(&memorymock.Store{}), app.WithMonitor(&vadmock.Monitor{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	failing := resilience.NewBreaker(resilience.BreakerConfig{Name: "tts/elevenlabs", MaxFailures: 1})
	_ = failing.Do(context.Background(), func(context.Context) error { return errors.New("boom") })

	tests := []struct {
		name       string
		live       bool
		store      *memorymock.Store
		breakers   []*resilience.Breaker
		wantCode   int
		wantStatus string
		wantCheck  string
	}{
		{
			name:       "all healthy",
			live:       true,
			store:      &memorymock.Store{},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "capture not live",
			live:       false,
			store:      &memorymock.Store{},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantCheck:  "audio",
		},
		{
			name:       "history restore failed",
			live:       true,
			store:      &memorymock.Store{RecentErr: errors.New("connection refused")},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
			wantCheck:  "memory",
		},
		{
			name:       "provider circuit open",
			live:       true,
			store:      &memorymock.Store{},
			breakers:   []*resilience.Breaker{failing},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
			wantCheck:  "provider:tts/elevenlabs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ps := testProviders()
			ps.Breakers = tt.breakers
			a, err := app.New(context.Background(), testConfig(), ps, testAudio(tt.live),
				app.WithMemoryStore(tt.store), app.WithMonitor(&vadmock.Monitor{}))
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			rec := httptest.NewRecorder()
			a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", rec.Code, tt.wantCode)
			}
			var body struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q (checks %v)", body.Status, tt.wantStatus, body.Checks)
			}
			if tt.wantCheck != "" && body.Checks[tt.wantCheck] == "ok" {
				t.Errorf("check %q = ok, want a failure", tt.wantCheck)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("parley_interruptions_total 0\n"))
	})
	a, err := app.New(context.Background(), testConfig(), testProviders(), testAudio(true),
		app.WithMemoryStore(&memorymock.Store{}), app.WithMonitor(&vadmock.Monitor{}),
		app.WithMetricsHandler(metrics))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "parley_interruptions_total") {
		t.Errorf("GET /metrics = %d %q", rec.Code, rec.Body.String())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within 5s")
}

func TestPlaybackObserver(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), testProviders(), testAudio(true),
		app.WithMemoryStore(&memorymock.Store{}), app.WithMonitor(&vadmock.Monitor{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, playing := a.PlaybackObserver().Current(); playing {
		t.Error("observer reports playback before anything was queued")
	}
}
