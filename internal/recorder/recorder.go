// Package recorder captures utterances from a shared microphone stream.
//
// A [Recorder] holds at most one capture session. Automatic sessions are
// started and stopped by voice activity; manual sessions are toggled by the
// operator and end on their own after a maximum duration. Either way the
// buffered audio is encoded once, handed to the completion callback, and
// dropped.
package recorder

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/parley/internal/loop"
	"github.com/MrWong99/parley/pkg/audio"
)

// DefaultMaxManualDuration bounds manual recordings.
const DefaultMaxManualDuration = 20 * time.Second

// State is the recorder's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateManualRecording
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRecording:
		return "RECORDING"
	case StateManualRecording:
		return "MANUAL_RECORDING"
	default:
		return "UNKNOWN"
	}
}

// Mode records how a session was started.
type Mode int

const (
	Automatic Mode = iota
	Manual
)

// String returns the lower-case mode name used in logs and metrics.
func (m Mode) String() string {
	if m == Manual {
		return "manual"
	}
	return "automatic"
}

// Recording is a finished capture.
type Recording struct {
	Data     []byte
	MIME     string
	Mode     Mode
	Format   audio.Format
	Started  time.Time
	Duration time.Duration
}

// Encoder packs raw PCM into a container.
type Encoder func(pcm []byte, f audio.Format) (data []byte, mime string)

// WAV is the default [Encoder].
func WAV(pcm []byte, f audio.Format) ([]byte, string) {
	return audio.EncodeWAV(pcm, f), audio.MIMEWAV
}

// Metrics receives recorder telemetry. *observe.Metrics satisfies it.
type Metrics interface {
	RecordRecording(ctx context.Context, mode string, d time.Duration)
}

// Option configures a [Recorder].
type Option func(*Recorder)

// WithMaxManualDuration bounds manual sessions. Non-positive values are ignored.
func WithMaxManualDuration(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.maxManual = d
		}
	}
}

// WithOnComplete registers fn to receive every finished recording.
func WithOnComplete(fn func(Recording)) Option {
	return func(r *Recorder) { r.onComplete = fn }
}

// WithEncoder replaces the WAV encoder.
func WithEncoder(enc Encoder) Option {
	return func(r *Recorder) {
		if enc != nil {
			r.encode = enc
		}
	}
}

// WithTargetFormat converts captured frames to f before buffering.
func WithTargetFormat(f audio.Format) Option {
	return func(r *Recorder) { r.target = &f }
}

// WithMetrics records finished sessions to m.
func WithMetrics(m Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

type session struct {
	id          uint64
	mode        Mode
	format      audio.Format
	conv        *audio.FormatConverter
	chunks      [][]byte
	started     time.Time
	deadline    time.Time
	timer       loop.Timer
	unsubscribe func()
}

// Recorder is the recording controller. It is not safe for concurrent use;
// call it from the event loop.
type Recorder struct {
	sched      loop.Scheduler
	maxManual  time.Duration
	onComplete func(Recording)
	encode     Encoder
	target     *audio.Format
	metrics    Metrics

	state   State
	nextID  uint64
	session *session
}

// New creates an idle Recorder.
func New(sched loop.Scheduler, opts ...Option) *Recorder {
	r := &Recorder{
		sched:     sched,
		maxManual: DefaultMaxManualDuration,
		encode:    WAV,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// State returns the current state.
func (r *Recorder) State() State { return r.state }

// IsRecording reports whether any session is active.
func (r *Recorder) IsRecording() bool { return r.state != StateIdle }

// IsManualRecording reports whether a manual session is active.
func (r *Recorder) IsManualRecording() bool { return r.state == StateManualRecording }

// Deadline returns when the active manual session will expire.
func (r *Recorder) Deadline() (time.Time, bool) {
	if r.session == nil || r.session.deadline.IsZero() {
		return time.Time{}, false
	}
	return r.session.deadline, true
}

// Start begins an automatic session on stream. It returns false without
// changing state when the stream has no live track or a session is active.
func (r *Recorder) Start(stream audio.Stream) bool {
	return r.start(stream, Automatic)
}

// ToggleManual stops an active manual session, or starts a manual one. An
// active automatic session is promoted to manual and gets the manual
// duration bound.
func (r *Recorder) ToggleManual(stream audio.Stream) {
	switch r.state {
	case StateManualRecording:
		r.Stop()
	case StateRecording:
		r.session.mode = Manual
		r.state = StateManualRecording
		r.armExpiry()
		slog.Info("recorder: automatic session promoted to manual")
	default:
		if r.start(stream, Manual) {
			r.armExpiry()
		}
	}
}

// Stop ends the active session and delivers its recording. No-op when idle.
func (r *Recorder) Stop() {
	if r.state == StateIdle || r.session == nil {
		return
	}
	s := r.session
	r.session = nil
	r.state = StateIdle
	if s.timer != nil {
		s.timer.Stop()
	}
	s.unsubscribe()

	size := 0
	for _, c := range s.chunks {
		size += len(c)
	}
	pcm := make([]byte, 0, size)
	for _, c := range s.chunks {
		pcm = append(pcm, c...)
	}
	data, mime := r.encode(pcm, s.format)
	rec := Recording{
		Data:     data,
		MIME:     mime,
		Mode:     s.mode,
		Format:   s.format,
		Started:  s.started,
		Duration: s.format.Duration(len(pcm)),
	}

	slog.Info("recorder: stopped", "mode", rec.Mode.String(), "duration", rec.Duration, "bytes", len(pcm))
	if r.metrics != nil {
		r.metrics.RecordRecording(context.Background(), rec.Mode.String(), rec.Duration)
	}
	if r.onComplete != nil {
		r.onComplete(rec)
	}
}

func (r *Recorder) start(stream audio.Stream, mode Mode) bool {
	if stream == nil || !stream.Live() {
		slog.Warn("recorder: no live audio track, not recording", "mode", mode.String())
		return false
	}
	if r.state != StateIdle {
		slog.Debug("recorder: already recording, start rejected", "state", r.state.String(), "mode", mode.String())
		return false
	}

	r.nextID++
	s := &session{
		id:      r.nextID,
		mode:    mode,
		format:  stream.Format(),
		started: r.sched.Now(),
	}
	if r.target != nil {
		s.format = *r.target
		s.conv = &audio.FormatConverter{Target: *r.target}
	}
	id := s.id
	s.unsubscribe = stream.Subscribe(func(f audio.AudioFrame) {
		r.sched.Post(func() { r.append(id, f) })
	})

	r.session = s
	r.state = StateRecording
	if mode == Manual {
		r.state = StateManualRecording
	}
	slog.Info("recorder: started", "mode", mode.String(), "format", s.format.String())
	return true
}

func (r *Recorder) armExpiry() {
	s := r.session
	s.deadline = r.sched.Now().Add(r.maxManual)
	id := s.id
	s.timer = r.sched.AfterFunc(r.maxManual, func() {
		if r.session == nil || r.session.id != id {
			return
		}
		slog.Info("recorder: manual recording reached maximum duration", "max", r.maxManual)
		r.Stop()
	})
}

// append buffers a frame if it belongs to the active session.
func (r *Recorder) append(id uint64, f audio.AudioFrame) {
	if r.session == nil || r.session.id != id {
		return
	}
	if r.session.conv != nil {
		f = r.session.conv.Convert(f)
	}
	if len(f.Data) == 0 {
		return
	}
	r.session.chunks = append(r.session.chunks, append([]byte(nil), f.Data...))
}
