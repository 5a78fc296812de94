// Package app wires all parley subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run starts the event loop and the background services, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithMemoryStore, WithMonitor, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/assistant"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/loop"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/recorder"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/blob"
	"github.com/MrWong99/parley/pkg/audio/playback"
	"github.com/MrWong99/parley/pkg/audio/player"
	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/memory/postgres"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// bufferEntries caps the in-process history store used without Postgres.
const bufferEntries = 10000

// Audio holds the device side of the pipeline.
type Audio struct {
	// Stream is the capture stream, usually a *mic.Mic.
	Stream audio.Stream

	// Backend renders playback elements, usually a *speaker.Backend.
	Backend player.Backend

	// Store holds synthesized audio until it has been played.
	Store *blob.Store
}

// App owns all subsystem lifetimes and orchestrates the parley voice loop.
type App struct {
	cfg       *config.Config
	providers *Providers
	audio     Audio

	loop      *loop.Loop
	assistant *assistant.Assistant
	monitor   vad.Monitor

	store        memory.Store
	guard        *session.MemoryGuard
	pg           *postgres.Store
	history      *session.ContextManager
	consolidator *session.Consolidator

	metrics        *observe.Metrics
	metricsHandler http.Handler
	handler        http.Handler
	server         *http.Server

	configPath  string
	watcherOpts []config.WatcherOption
	watcher     *config.Watcher
	logLevel    *slog.LevelVar

	// cfgMu guards cfg once the watcher runs.
	cfgMu sync.Mutex

	startOnce  sync.Once
	started    bool
	stopLoop   context.CancelFunc
	loopDone   chan struct{}
	consDone   chan struct{}
	consCancel context.CancelFunc

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMemoryStore injects a history store instead of creating one from
// config.
func WithMemoryStore(s memory.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMonitor injects a voice activity monitor instead of building a
// [vad.Listener] on the VAD engine.
func WithMonitor(m vad.Monitor) Option {
	return func(a *App) { a.monitor = m }
}

// WithMetrics records telemetry to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithConfigFile watches path and applies runtime-tunable changes while the
// app runs.
func WithConfigFile(path string, opts ...config.WatcherOption) Option {
	return func(a *App) {
		a.configPath = path
		a.watcherOpts = opts
	}
}

// WithLogLevel lets configuration reloads change the level of the handler
// that owns lv.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// New creates an App by wiring all subsystems together. The providers come
// from main.go (built with [BuildProviders]); the audio devices must already
// be open. New does not start any goroutines.
func New(ctx context.Context, cfg *config.Config, providers *Providers, dev Audio, opts ...Option) (*App, error) {
	if providers == nil {
		return nil, errors.New("app: providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		audio:     dev,
		loop:      loop.New(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.audio.Store == nil {
		a.audio.Store = blob.NewStore()
	}
	if a.audio.Stream == nil || a.audio.Backend == nil {
		return nil, errors.New("app: capture stream and playback backend are required")
	}

	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}
	a.initHistory(ctx)

	if err := a.initAssistant(); err != nil {
		return nil, fmt.Errorf("app: init assistant: %w", err)
	}

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.ApplyConfig, a.watcherOpts...)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.watcher = w
	}

	a.initHTTP()
	return a, nil
}

// initMemory picks the history store: injected, Postgres, or in-process.
func (a *App) initMemory(ctx context.Context) error {
	if a.store == nil {
		if dsn := a.cfg.Memory.PostgresDSN; dsn != "" {
			pg, err := postgres.NewStore(ctx, dsn)
			if err != nil {
				return err
			}
			a.pg = pg
			a.store = pg
			a.closers = append(a.closers, func() error {
				pg.Close()
				return nil
			})
			slog.Info("conversation history stored in postgres")
		} else {
			a.store = memory.NewBuffer(bufferEntries)
			slog.Info("conversation history kept in memory only")
		}
	}
	a.guard = session.NewMemoryGuard(a.store)
	return nil
}

// initHistory builds the context window and restores the newest persisted
// messages. A failed restore is logged; the store is then reported degraded.
func (a *App) initHistory(ctx context.Context) {
	convID := a.cfg.Memory.ConversationID
	if convID == "" {
		convID = uuid.NewString()
	}
	a.history = session.NewContextManager(session.ContextManagerConfig{
		MaxTokens:      a.cfg.Memory.MaxTokens,
		Summariser:     session.NewLLMSummariser(a.providers.LLM),
		ConversationID: convID,
	})
	a.consolidator = session.NewConsolidator(session.ConsolidatorConfig{
		Store:      a.guard,
		ContextMgr: a.history,
	})

	if n := a.cfg.Memory.RestoreMessages; n > 0 {
		restored, err := a.consolidator.Restore(ctx, n)
		if err != nil {
			slog.Warn("could not restore conversation history", "conversation_id", convID, "err", err)
			return
		}
		slog.Info("conversation history restored", "conversation_id", convID, "messages", restored)
	}
}

func (a *App) initAssistant() error {
	if a.monitor == nil {
		if a.providers.VAD == nil {
			return errors.New("a vad engine is required")
		}
		vc := a.cfg.VAD
		lopts := []vad.ListenerOption{
			vad.WithCalibration(vc.CalibrationDuration, vc.CalibrationMultiplier),
		}
		if vc.AdaptiveFactor > 0 {
			lopts = append(lopts, vad.WithAdaptiveThreshold(vc.AdaptiveFactor))
		}
		a.monitor = vad.NewListener(a.providers.VAD, vad.Config{
			SampleRate:      a.cfg.Audio.SampleRate,
			FrameSizeMs:     vc.FrameMs,
			SpeechThreshold: vc.Threshold,
		}, lopts...)
	}

	pc := a.cfg.Playback
	as, err := assistant.New(a.loop, assistant.Deps{
		Backend: a.audio.Backend,
		Store:   a.audio.Store,
		Monitor: a.monitor,
		STT:     a.providers.STT,
		LLM:     a.providers.LLM,
		TTS:     a.providers.TTS,
		STTName: a.providers.STTName,
		LLMName: a.providers.LLMName,
		History: a.history,
	}, assistantConfig(a.cfg),
		assistant.WithClassifierConfig(a.cfg.Interruption.Classifier()),
		assistant.WithPlaybackOptions(
			playback.WithSettleDelays(pc.PrimarySource, pc.PrimarySettle, pc.OtherSettle),
			playback.WithCooldown(pc.Cooldown),
			playback.WithRate(pc.Rate),
		),
		assistant.WithRecorderOptions(
			recorder.WithMaxManualDuration(a.cfg.Recorder.MaxManualDuration),
		),
		assistant.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.assistant = as
	return nil
}

// initHTTP builds the metrics and health handler. The listener is only
// created when an address is configured.
func (a *App) initHTTP() {
	checks := []health.Checker{
		health.DegradedCheck("memory", a.guard.IsDegraded),
		{
			Name: "audio",
			Check: func(context.Context) error {
				if !a.audio.Stream.Live() {
					return errors.New("capture stream is not live")
				}
				return nil
			},
		},
	}
	if a.pg != nil {
		checks = append(checks, health.PingCheck("postgres", a.pg, true))
	}
	for _, b := range a.providers.Breakers {
		checks = append(checks, breakerCheck(b))
	}

	mux := http.NewServeMux()
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	health.New(checks...).Register(mux)
	a.handler = observe.Middleware(a.metrics)(mux)

	if addr := a.cfg.Server.MetricsAddr; addr != "" {
		a.server = &http.Server{
			Addr:              addr,
			Handler:           a.handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
}

func breakerCheck(b *resilience.Breaker) health.Checker {
	return health.Checker{
		Name:     "provider:" + b.Name(),
		Optional: true,
		Check: func(context.Context) error {
			if s := b.State(); s == resilience.StateOpen {
				return fmt.Errorf("circuit %s", s)
			}
			return nil
		},
	}
}

// Handler returns the /metrics, /healthz and /readyz handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the event loop, the assistant and the background services and
// blocks until ctx is cancelled. It returns ctx.Err() on a normal stop or the
// first service error.
func (a *App) Run(ctx context.Context) error {
	a.startLoop()

	var startErr error
	if err := a.loop.Call(ctx, func() { startErr = a.assistant.Start(a.audio.Stream) }); err != nil {
		return fmt.Errorf("app: start assistant: %w", err)
	}
	if startErr != nil {
		return fmt.Errorf("app: start assistant: %w", startErr)
	}
	a.startConsolidator()

	g, gctx := errgroup.WithContext(ctx)
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	if a.server != nil {
		g.Go(func() error {
			slog.Info("metrics server listening", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return a.server.Shutdown(sctx)
		})
	}

	slog.Info("app running",
		"llm", a.providers.LLMName,
		"stt", a.providers.STTName,
		"tts", a.providers.TTS.Name(),
		"conversation_id", a.history.ConversationID(),
	)
	<-gctx.Done()

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// startLoop runs the event loop on its own goroutine. The loop outlives
// Run's context so that Shutdown can still close the assistant on it.
func (a *App) startLoop() {
	a.startOnce.Do(func() {
		lctx, cancel := context.WithCancel(context.Background())
		a.stopLoop = cancel
		a.loopDone = make(chan struct{})
		a.started = true
		go func() {
			defer close(a.loopDone)
			_ = a.loop.Run(lctx)
		}()
	})
}

func (a *App) startConsolidator() {
	cctx, cancel := context.WithCancel(context.Background())
	a.consCancel = cancel
	a.consDone = make(chan struct{})
	go func() {
		defer close(a.consDone)
		_ = a.consolidator.Run(cctx)
	}()
}

// Call runs fn on the event loop and waits for it. Keyboard handlers and
// status displays use it to reach the assistant.
func (a *App) Call(ctx context.Context, fn func(*assistant.Assistant)) error {
	return a.loop.Call(ctx, func() { fn(a.assistant) })
}

// Status returns the assistant's state, read on the loop.
func (a *App) Status(ctx context.Context) (assistant.Status, error) {
	var st assistant.Status
	err := a.Call(ctx, func(as *assistant.Assistant) { st = as.Status() })
	return st, err
}

// Calibrate measures the room noise floor and adopts the resulting
// threshold. It blocks for the calibration duration.
func (a *App) Calibrate(ctx context.Context) error {
	return a.assistant.Calibrate(ctx)
}

// PlaybackObserver reports what the speaker is playing. It may be used from
// any goroutine.
func (a *App) PlaybackObserver() *player.Observer {
	return a.assistant.Player().Observer()
}

// Config returns the configuration currently in effect.
func (a *App) Config() *config.Config {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	return a.cfg
}

// ApplyConfig applies the runtime-tunable differences between old and new.
// Changes to providers, memory, audio, playback timing or the recorder are
// logged and take effect on the next start.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}
	a.cfgMu.Lock()
	a.cfg = new
	a.cfgMu.Unlock()

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(new.Server.LogLevel.Slog())
		slog.Info("log level changed", "level", new.Server.LogLevel)
	}
	if d.InterruptionChanged || d.VADThresholdChanged || d.AssistantChanged {
		a.loop.Post(func() {
			if d.InterruptionChanged {
				a.assistant.SetClassifierConfig(new.Interruption.Classifier())
			}
			if d.VADThresholdChanged {
				a.assistant.SetThreshold(new.VAD.Threshold)
			}
			if d.AssistantChanged {
				a.assistant.SetConfig(assistantConfig(new))
			}
		})
	}
	if d.PlaybackChanged || d.RecorderChanged || d.RestartRequired {
		slog.Warn("configuration changes need a restart to take effect",
			"playback", d.PlaybackChanged,
			"recorder", d.RecorderChanged,
			"other", d.RestartRequired,
		)
	}
}

// Shutdown tears down all subsystems: the assistant first so no new turns
// start, then history persistence, the loop and finally the closers. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.started {
			if err := a.loop.Call(ctx, a.assistant.Close); err != nil {
				slog.Warn("could not close assistant on the loop", "err", err)
			}
		} else {
			a.assistant.Close()
		}

		turnsDone := make(chan struct{})
		go func() {
			a.assistant.Wait()
			close(turnsDone)
		}()
		select {
		case <-turnsDone:
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded waiting for turns")
		}

		if a.consCancel != nil {
			a.consCancel()
			<-a.consDone
		} else if err := a.consolidator.ConsolidateNow(ctx); err != nil {
			slog.Warn("final history flush failed", "err", err)
		}

		if a.stopLoop != nil {
			a.stopLoop()
			<-a.loopDone
		} else {
			_ = a.loop.Close()
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func assistantConfig(cfg *config.Config) assistant.Config {
	ac := cfg.Assistant
	return assistant.Config{
		SystemPrompt: ac.SystemPrompt,
		Voice:        ac.Voice,
		Language:     ac.Language,
		Temperature:  ac.Temperature,
		MaxTokens:    ac.MaxTokens,
		TickInterval: ac.TickInterval,
	}
}
