package vad

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

var (
	// ErrNoLiveTrack is returned by StartListening for a stream without a
	// live input track.
	ErrNoLiveTrack = errors.New("vad: stream has no live track")

	// ErrNotListening is returned by Calibrate before StartListening.
	ErrNotListening = errors.New("vad: not listening")

	// ErrCalibrating is returned by Calibrate while another calibration runs.
	ErrCalibrating = errors.New("vad: calibration already running")
)

// ThresholdSetter is implemented by sessions whose thresholds can change
// without losing detection state. Sessions that do not implement it are
// replaced when the threshold changes.
type ThresholdSetter interface {
	SetThresholds(speech, silence float64)
}

// ListenerOption configures a [Listener].
type ListenerOption func(*Listener)

// WithFFTSize sets the analysis window in samples. Must be a power of two;
// the spectrum has half as many bins. Default 256.
func WithFFTSize(n int) ListenerOption {
	return func(l *Listener) {
		if n >= 64 && n&(n-1) == 0 {
			l.fftSize = n
		}
	}
}

// WithSmoothing sets the spectrum's time smoothing constant in [0, 1).
// Default 0.8.
func WithSmoothing(tau float64) ListenerOption {
	return func(l *Listener) {
		if tau >= 0 && tau < 1 {
			l.smoothing = tau
		}
	}
}

// WithCalibration sets how long Calibrate listens and how far above the
// measured noise floor the new threshold is placed. Defaults 2s and 1.5.
func WithCalibration(d time.Duration, multiplier float64) ListenerOption {
	return func(l *Listener) {
		if d > 0 {
			l.calDuration = d
		}
		if multiplier > 0 {
			l.calMultiplier = multiplier
		}
	}
}

// WithMinThreshold bounds calibrated thresholds from below. Default 0.01.
func WithMinThreshold(v float64) ListenerOption {
	return func(l *Listener) { l.minThreshold = v }
}

// WithAdaptiveThreshold scales the threshold by factor once, after the first
// detected speech segment starts. Disabled by default.
func WithAdaptiveThreshold(factor float64) ListenerOption {
	return func(l *Listener) {
		if factor > 0 && factor < 1 {
			l.adaptive = factor
		}
	}
}

// Listener is the standard [Monitor]. It runs the given [Engine] over
// fixed-size frames cut from the stream and maintains the volume and
// spectrum snapshot. Safe for concurrent use.
type Listener struct {
	engine        Engine
	cfg           Config
	silenceRatio  float64
	fftSize       int
	smoothing     float64
	calDuration   time.Duration
	calMultiplier float64
	minThreshold  float64
	adaptive      float64

	mu        sync.Mutex
	stream    audio.Stream
	unsub     func()
	sess      SessionHandle
	conv      *audio.FormatConverter
	spec      *analyser
	pending   []byte
	threshold float64
	adapted   bool
	volume    float64
	spectrum  []float64
	speaking  bool
	ends      int
	onStart   func()
	onEnd     func()

	calibrating bool
	calSamples  []float64
	calTarget   int
	calDone     chan struct{}
}

// Ensure Listener implements Monitor at compile time.
var _ Monitor = (*Listener)(nil)

// NewListener creates a Listener. cfg.SpeechThreshold is the initial volume
// threshold; the ratio of SilenceThreshold to SpeechThreshold is kept when
// the threshold changes.
func NewListener(engine Engine, cfg Config, opts ...ListenerOption) *Listener {
	ratio := 0.7
	if cfg.SpeechThreshold > 0 && cfg.SilenceThreshold > 0 {
		ratio = cfg.SilenceThreshold / cfg.SpeechThreshold
	}
	l := &Listener{
		engine:        engine,
		cfg:           cfg,
		silenceRatio:  ratio,
		fftSize:       256,
		smoothing:     0.8,
		calDuration:   2 * time.Second,
		calMultiplier: 1.5,
		minThreshold:  0.01,
		threshold:     cfg.SpeechThreshold,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Listener) sessionConfig() Config {
	c := l.cfg
	c.SpeechThreshold = l.threshold
	c.SilenceThreshold = l.threshold * l.silenceRatio
	return c
}

// StartListening implements [Monitor]. A stream that is already being
// listened to is released first.
func (l *Listener) StartListening(stream audio.Stream) error {
	if stream == nil || !stream.Live() {
		return ErrNoLiveTrack
	}
	l.StopListening()

	l.mu.Lock()
	sess, err := l.engine.NewSession(l.sessionConfig())
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("vad: new session: %w", err)
	}
	l.sess = sess
	l.stream = stream
	l.conv = &audio.FormatConverter{Target: audio.Format{SampleRate: l.cfg.SampleRate, Channels: 1}}
	l.spec = newAnalyser(l.fftSize, l.smoothing)
	l.pending = nil
	l.speaking = false
	l.mu.Unlock()

	unsub := stream.Subscribe(l.onFrame)
	l.mu.Lock()
	l.unsub = unsub
	l.mu.Unlock()
	slog.Info("vad: listening", "format", stream.Format().String(), "threshold", l.Threshold())
	return nil
}

// StopListening implements [Monitor].
func (l *Listener) StopListening() {
	l.mu.Lock()
	unsub, sess := l.unsub, l.sess
	wasSpeaking := l.speaking
	l.unsub, l.sess, l.stream = nil, nil, nil
	l.speaking = false
	l.volume = 0
	l.spectrum = nil
	l.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if sess != nil {
		_ = sess.Close()
		slog.Info("vad: stopped listening", "speaking", wasSpeaking)
	}
}

// IsListening implements [Monitor].
func (l *Listener) IsListening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sess != nil
}

// Stream implements [Monitor].
func (l *Listener) Stream() audio.Stream {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stream
}

// Volume implements [Monitor].
func (l *Listener) Volume() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.volume
}

// Threshold implements [Monitor].
func (l *Listener) Threshold() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.threshold
}

// SetThreshold implements [Monitor].
func (l *Listener) SetThreshold(v float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setThresholdLocked(v)
}

func (l *Listener) setThresholdLocked(v float64) {
	l.threshold = v
	if l.sess == nil {
		return
	}
	if ts, ok := l.sess.(ThresholdSetter); ok {
		ts.SetThresholds(v, v*l.silenceRatio)
		return
	}
	sess, err := l.engine.NewSession(l.sessionConfig())
	if err != nil {
		slog.Warn("vad: could not apply new threshold", "threshold", v, "err", err)
		return
	}
	_ = l.sess.Close()
	l.sess = sess
	l.speaking = false
}

// SpeechActive implements [Monitor].
func (l *Listener) SpeechActive() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.speaking {
		return 1
	}
	return 0
}

// SpeechEndCount implements [Monitor].
func (l *Listener) SpeechEndCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ends
}

// Sample implements [Monitor]. The spectrum is a copy.
func (l *Listener) Sample() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Snapshot{Volume: l.volume}
	if l.spectrum != nil {
		s.Spectrum = append([]float64(nil), l.spectrum...)
	}
	return s
}

// OnSpeechStart implements [Monitor].
func (l *Listener) OnSpeechStart(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onStart = fn
}

// OnSpeechEnd implements [Monitor].
func (l *Listener) OnSpeechEnd(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onEnd = fn
}

// IsCalibrating implements [Monitor].
func (l *Listener) IsCalibrating() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calibrating
}

// CalibrationProgress implements [Monitor].
func (l *Listener) CalibrationProgress() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calProgressLocked()
}

func (l *Listener) calProgressLocked() int {
	if l.calTarget == 0 {
		return 0
	}
	return min(100, len(l.calSamples)*100/l.calTarget)
}

// Calibrate implements [Monitor]. Speech detection is paused while it runs.
// The new threshold is the measured noise floor (mean plus two standard
// deviations of frame volume) times the calibration multiplier.
func (l *Listener) Calibrate(ctx context.Context) error {
	l.mu.Lock()
	if l.sess == nil {
		l.mu.Unlock()
		return ErrNotListening
	}
	if l.calibrating {
		l.mu.Unlock()
		return ErrCalibrating
	}
	l.calibrating = true
	l.calSamples = l.calSamples[:0]
	l.calTarget = max(1, int(l.calDuration/(time.Duration(l.cfg.FrameSizeMs)*time.Millisecond)))
	done := make(chan struct{})
	l.calDone = done
	l.mu.Unlock()

	slog.Info("vad: calibrating", "duration", l.calDuration)
	select {
	case <-done:
		slog.Info("vad: calibrated", "threshold", l.Threshold())
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		if l.calDone == done {
			l.calibrating = false
			l.calDone = nil
		}
		l.mu.Unlock()
		return fmt.Errorf("vad: calibrate: %w", ctx.Err())
	}
}

// onFrame runs on the capture goroutine.
func (l *Listener) onFrame(f audio.AudioFrame) {
	l.mu.Lock()
	if l.sess == nil {
		l.mu.Unlock()
		return
	}
	converted := l.conv.Convert(f)
	l.pending = append(l.pending, converted.Data...)
	size := l.cfg.FrameBytes()

	var fire []func()
	for size > 0 && len(l.pending) >= size {
		frame := l.pending[:size]
		if fn := l.processLocked(frame); fn != nil {
			fire = append(fire, fn)
		}
		l.pending = l.pending[size:]
	}
	l.pending = append([]byte(nil), l.pending...)
	l.mu.Unlock()

	for _, fn := range fire {
		fn()
	}
}

// processLocked analyses one frame and returns a callback to run after the
// lock is released, if any.
func (l *Listener) processLocked(frame []byte) func() {
	samples := audio.Float64s(frame)
	l.volume = audio.RMS(samples)
	l.spec.push(samples)
	l.spectrum = l.spec.bytes()

	if l.calibrating {
		l.calSamples = append(l.calSamples, l.volume)
		if len(l.calSamples) >= l.calTarget {
			l.finishCalibrationLocked()
		}
		return nil
	}

	ev, err := l.sess.ProcessFrame(frame)
	if err != nil {
		slog.Warn("vad: frame rejected", "err", err)
		return nil
	}
	switch ev.Type {
	case VADSpeechStart:
		if l.speaking {
			return nil
		}
		l.speaking = true
		if l.adaptive > 0 && !l.adapted {
			l.adapted = true
			l.setThresholdLocked(l.threshold * l.adaptive)
		}
		return l.onStart
	case VADSpeechEnd:
		if !l.speaking {
			return nil
		}
		l.speaking = false
		l.ends++
		return l.onEnd
	}
	return nil
}

func (l *Listener) finishCalibrationLocked() {
	var mean float64
	for _, v := range l.calSamples {
		mean += v
	}
	mean /= float64(len(l.calSamples))
	var ss float64
	for _, v := range l.calSamples {
		ss += (v - mean) * (v - mean)
	}
	std := math.Sqrt(ss / float64(len(l.calSamples)))

	l.calibrating = false
	l.setThresholdLocked(math.Max(l.minThreshold, (mean+2*std)*l.calMultiplier))
	if l.calDone != nil {
		close(l.calDone)
		l.calDone = nil
	}
}
