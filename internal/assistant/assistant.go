// Package assistant wires the playback, interruption and recording
// components into a conversational loop.
//
// An [Assistant] listens to the microphone through a [vad.Monitor]. Speech
// starts an automatic recording; silence ends it. Every finished recording
// becomes a turn: transcription, a streamed LLM reply, one synthesis call per
// sentence and finally one [audio.PlaybackItem] per sentence on the playback
// queue. While speech plays the interruption classifier is ticked at a fixed
// cadence. A confirmed interruption clears the queue, cancels the turn and,
// when the user is talking, starts recording the interjection.
//
// All methods except [Assistant.Calibrate] must be called on the event loop
// goroutine. Provider calls run on a per-turn goroutine and hand their
// results back through [loop.Scheduler.Post].
package assistant

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/interrupt"
	"github.com/MrWong99/parley/internal/loop"
	"github.com/MrWong99/parley/internal/recorder"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/blob"
	"github.com/MrWong99/parley/pkg/audio/playback"
	"github.com/MrWong99/parley/pkg/audio/player"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// DefaultTickInterval is the classifier cadence.
const DefaultTickInterval = 50 * time.Millisecond

// defaultHistoryTokens sizes the conversation window when no history is
// supplied.
const defaultHistoryTokens = 8000

// Config holds the per-reply settings. It can be replaced at runtime with
// [Assistant.SetConfig]; a turn keeps the settings it started with.
type Config struct {
	SystemPrompt string
	Voice        string
	Language     string
	Temperature  float64
	MaxTokens    int
	TickInterval time.Duration
}

// Deps are the collaborators an Assistant needs. All fields except History
// are required.
type Deps struct {
	Backend player.Backend
	Store   *blob.Store
	Monitor vad.Monitor

	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider

	// STTName and LLMName label stage metrics. TTS reports its own name.
	STTName string
	LLMName string

	// History keeps the conversation. When nil an unsummarised window of
	// defaultHistoryTokens is used.
	History *session.ContextManager
}

// Metrics receives assistant telemetry. *observe.Metrics satisfies it.
type Metrics interface {
	playback.Metrics
	interrupt.Metrics
	recorder.Metrics
	RecordStage(ctx context.Context, stage, provider string, d time.Duration, err error)
	RecordTurnLatency(ctx context.Context, d time.Duration)
}

// Option configures an [Assistant].
type Option func(*options)

type options struct {
	classifier   interrupt.Config
	playbackOpts []playback.Option
	recorderOpts []recorder.Option
	metrics      Metrics
}

// WithClassifierConfig replaces [interrupt.DefaultConfig].
func WithClassifierConfig(cfg interrupt.Config) Option {
	return func(o *options) { o.classifier = cfg }
}

// WithPlaybackOptions tunes the playback queue.
func WithPlaybackOptions(opts ...playback.Option) Option {
	return func(o *options) { o.playbackOpts = append(o.playbackOpts, opts...) }
}

// WithRecorderOptions tunes the recorder. A completion callback set here is
// replaced by the assistant's own.
func WithRecorderOptions(opts ...recorder.Option) Option {
	return func(o *options) { o.recorderOpts = append(o.recorderOpts, opts...) }
}

// WithMetrics records telemetry from every component to m.
func WithMetrics(m Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Assistant is the conversational loop. See the package documentation.
type Assistant struct {
	sched   loop.Scheduler
	cfg     Config
	deps    Deps
	metrics Metrics

	store      *blob.Store
	player     *player.Player
	queue      *playback.Queue
	classifier *interrupt.Classifier
	recorder   *recorder.Recorder
	monitor    vad.Monitor
	history    *session.ContextManager

	stream  audio.Stream
	ticker  loop.Timer
	running bool
	closed  bool

	current *turn
	turns   sync.WaitGroup
}

// New builds an Assistant and its playback, classifier and recorder
// components on sched.
func New(sched loop.Scheduler, deps Deps, cfg Config, opts ...Option) (*Assistant, error) {
	switch {
	case sched == nil:
		return nil, errors.New("assistant: scheduler is required")
	case deps.Backend == nil || deps.Store == nil:
		return nil, errors.New("assistant: playback backend and blob store are required")
	case deps.Monitor == nil:
		return nil, errors.New("assistant: voice activity monitor is required")
	case deps.STT == nil || deps.LLM == nil || deps.TTS == nil:
		return nil, errors.New("assistant: stt, llm and tts providers are required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}

	o := options{classifier: interrupt.DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &Assistant{
		sched:   sched,
		cfg:     cfg,
		deps:    deps,
		metrics: o.metrics,
		store:   deps.Store,
		monitor: deps.Monitor,
		history: deps.History,
	}
	if a.history == nil {
		a.history = session.NewContextManager(session.ContextManagerConfig{MaxTokens: defaultHistoryTokens})
	}

	var classifierOpts []interrupt.Option
	classifierOpts = append(classifierOpts, interrupt.WithOnInterrupt(a.onInterrupt))
	if o.metrics != nil {
		classifierOpts = append(classifierOpts, interrupt.WithMetrics(o.metrics))
	}
	a.classifier = interrupt.New(sched, o.classifier, classifierOpts...)

	a.player = player.New(deps.Backend, sched, deps.Store)

	queueOpts := append([]playback.Option{}, o.playbackOpts...)
	queueOpts = append(queueOpts,
		playback.WithInterruptSource(a.classifier),
		playback.WithOnIdle(a.onQueueIdle),
	)
	if o.metrics != nil {
		queueOpts = append(queueOpts, playback.WithMetrics(o.metrics))
	}
	a.queue = playback.New(a.player, sched, deps.Store, queueOpts...)

	recOpts := append([]recorder.Option{}, o.recorderOpts...)
	recOpts = append(recOpts, recorder.WithOnComplete(a.onRecording))
	if o.metrics != nil {
		recOpts = append(recOpts, recorder.WithMetrics(o.metrics))
	}
	a.recorder = recorder.New(sched, recOpts...)

	return a, nil
}

// Start begins listening on stream and ticking the classifier.
func (a *Assistant) Start(stream audio.Stream) error {
	if a.closed {
		return errors.New("assistant: closed")
	}
	if a.running {
		return errors.New("assistant: already started")
	}
	if err := a.monitor.StartListening(stream); err != nil {
		return err
	}
	a.stream = stream
	a.running = true

	a.monitor.OnSpeechStart(func() { a.sched.Post(a.onSpeechStart) })
	a.monitor.OnSpeechEnd(func() { a.sched.Post(a.onSpeechEnd) })
	a.scheduleTick()

	slog.Info("assistant: listening", "format", stream.Format().String(), "tick", a.cfg.TickInterval)
	return nil
}

// Close stops listening, cancels the active turn and silences playback.
// Recordings still in progress are discarded. Idempotent.
func (a *Assistant) Close() {
	if a.closed {
		return
	}
	a.closed = true
	a.running = false
	if a.ticker != nil {
		a.ticker.Stop()
		a.ticker = nil
	}
	a.monitor.OnSpeechStart(nil)
	a.monitor.OnSpeechEnd(nil)
	a.monitor.StopListening()
	a.cancelTurn("shutdown")
	a.queue.Clear()
	a.recorder.Stop()
	slog.Info("assistant: closed")
}

// Wait blocks until every turn goroutine has returned. Call it off the loop
// after Close.
func (a *Assistant) Wait() {
	a.turns.Wait()
}

// Config returns the active settings.
func (a *Assistant) Config() Config { return a.cfg }

// SetConfig replaces the settings used by future turns.
func (a *Assistant) SetConfig(cfg Config) {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	a.cfg = cfg
}

// SetClassifierConfig retunes interruption detection.
func (a *Assistant) SetClassifierConfig(cfg interrupt.Config) {
	a.classifier.SetConfig(cfg)
}

// SetThreshold changes the voice activity threshold.
func (a *Assistant) SetThreshold(v float64) {
	a.monitor.SetThreshold(v)
}

// ToggleManual starts or stops a manual recording. Starting one while the
// assistant is talking stops the reply first.
func (a *Assistant) ToggleManual() {
	if a.closed || a.stream == nil {
		return
	}
	if !a.recorder.IsManualRecording() && (a.player.IsPlaying() || a.queue.IsProcessing()) {
		a.StopPlayback()
	}
	a.recorder.ToggleManual(a.stream)
}

// StopPlayback cancels the active reply and clears the queue.
func (a *Assistant) StopPlayback() {
	a.cancelTurn("stopped")
	a.queue.Clear()
}

// Calibrate measures the room's noise floor. It blocks and may be called
// from any goroutine.
func (a *Assistant) Calibrate(ctx context.Context) error {
	if err := a.monitor.Calibrate(ctx); err != nil {
		return err
	}
	slog.Info("assistant: calibrated", "threshold", a.monitor.Threshold())
	return nil
}

// Status is a point-in-time view for status lines and tests.
type Status struct {
	Listening   bool
	Speaking    bool
	Recorder    recorder.State
	Playing     bool
	Queue       playback.Phase
	Pending     int
	Interrupted bool
	Volume      float64
	Threshold   float64
	Turn        string
}

// Status returns the current state.
func (a *Assistant) Status() Status {
	st := Status{
		Listening:   a.running && a.monitor.IsListening(),
		Speaking:    a.monitor.SpeechActive() == 1,
		Recorder:    a.recorder.State(),
		Playing:     a.player.IsPlaying(),
		Queue:       a.queue.Phase(),
		Pending:     a.queue.Len(),
		Interrupted: a.classifier.Detected(),
		Volume:      a.monitor.Volume(),
		Threshold:   a.monitor.Threshold(),
	}
	if a.current != nil {
		st.Turn = a.current.id
	}
	return st
}

// Player exposes the playback primitive, mainly for its observer.
func (a *Assistant) Player() *player.Player { return a.player }

func (a *Assistant) scheduleTick() {
	a.ticker = a.sched.AfterFunc(a.cfg.TickInterval, a.tick)
}

// tick runs one classifier step and reschedules itself.
func (a *Assistant) tick() {
	a.ticker = nil
	if !a.running {
		return
	}
	s := a.monitor.Sample()
	a.classifier.Detect(interrupt.Sample{Volume: s.Volume, Spectrum: s.Spectrum}, a.player.IsPlaying())
	if a.running {
		a.scheduleTick()
	}
}

func (a *Assistant) onSpeechStart() {
	if !a.running {
		return
	}
	// While a reply is in flight the classifier decides whether speech is
	// an interruption; the speaker's own output can trip the monitor. The
	// gaps between fragments count as part of the reply.
	if a.player.IsPlaying() || a.queue.IsProcessing() {
		slog.Debug("assistant: speech during playback left to classifier")
		return
	}
	a.recorder.Start(a.stream)
}

func (a *Assistant) onSpeechEnd() {
	if !a.running {
		return
	}
	if a.recorder.State() == recorder.StateRecording {
		a.recorder.Stop()
	}
}

func (a *Assistant) onInterrupt(ev interrupt.Event) {
	slog.Info("assistant: interrupted",
		"heuristic", ev.Heuristic.String(),
		"volume", ev.Volume,
		"count", ev.Count,
		"pending", a.queue.Len(),
	)
	a.cancelTurn("interrupted")
	a.queue.Clear()
	if a.running && a.monitor.SpeechActive() == 1 && !a.recorder.IsRecording() {
		a.recorder.Start(a.stream)
	}
}

func (a *Assistant) onQueueIdle(interrupted bool) {
	t := a.current
	if t == nil || interrupted {
		return
	}
	if t.produced && a.queue.Len() == 0 {
		slog.Info("assistant: reply finished", "turn", t.id, "fragments", t.enqueued)
		a.current = nil
	}
}

func (a *Assistant) onRecording(rec recorder.Recording) {
	if a.closed {
		return
	}
	if len(rec.Data) == 0 || rec.Duration <= 0 {
		slog.Debug("assistant: empty recording ignored", "mode", rec.Mode.String())
		return
	}
	a.beginTurn(rec)
}
