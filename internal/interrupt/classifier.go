// Package interrupt decides whether sound picked up by the microphone while
// the assistant is speaking is the user interrupting.
//
// A [Classifier] is fed one [Sample] per tick (volume plus, when available,
// the frequency spectrum). Loud sounds confirm at once. Tonal alerts and
// sneezes are recognised by their spectral shape. Everything else feeds a
// decaying accumulator that must be pushed past a threshold by sustained,
// voice-like energy before an interruption is confirmed; broadband noise
// pushes it down and quiet lets it decay.
//
// Once confirmed, the classifier stays latched until [Classifier.Reset].
package interrupt

import (
	"context"
	"log/slog"
	"time"
)

// Heuristic names the rule that governed a tick.
type Heuristic int

const (
	// None: the tick had no effect (inactive playback or latched).
	None Heuristic = iota
	ExtremeVolume
	Doorbell
	Sneeze
	Transient
	Broadband
	Voice
	Volume
	Decay
	SilenceReset
)

// String returns the snake_case heuristic name used in logs and metrics.
func (h Heuristic) String() string {
	switch h {
	case None:
		return "none"
	case ExtremeVolume:
		return "extreme_volume"
	case Doorbell:
		return "doorbell"
	case Sneeze:
		return "sneeze"
	case Transient:
		return "transient"
	case Broadband:
		return "broadband"
	case Voice:
		return "voice"
	case Volume:
		return "volume"
	case Decay:
		return "decay"
	case SilenceReset:
		return "silence_reset"
	default:
		return "unknown"
	}
}

// Sample is one tick of microphone analysis.
type Sample struct {
	// Volume is normalised RMS in [0, 1].
	Volume float64
	// Spectrum is byte-scaled (0..255) frequency magnitude per bin. Nil means
	// only volume is known; the classifier then thresholds on volume alone.
	Spectrum []float64
}

// Decision is the outcome of one tick.
type Decision struct {
	Heuristic Heuristic
	// Confirmed is true when this tick confirmed an interruption.
	Confirmed bool
	// Score is the accumulator after this tick's contribution and before any
	// confirmation reset.
	Score float64
}

// Event describes a confirmed interruption.
type Event struct {
	Heuristic Heuristic
	Count     uint32
	Volume    float64
	At        time.Time
}

// Clock supplies the current time. loop.Scheduler satisfies it.
type Clock interface {
	Now() time.Time
}

// Metrics receives classifier telemetry. *observe.Metrics satisfies it.
type Metrics interface {
	RecordInterruption(ctx context.Context, heuristic string)
}

// Option configures a [Classifier].
type Option func(*Classifier)

// WithOnInterrupt registers fn to run synchronously on every confirmation.
func WithOnInterrupt(fn func(Event)) Option {
	return func(c *Classifier) { c.onInterrupt = fn }
}

// WithMetrics records confirmations to m.
func WithMetrics(m Metrics) Option {
	return func(c *Classifier) { c.metrics = m }
}

// Classifier is the interruption classifier. It is not safe for concurrent
// use; call it from the event loop.
type Classifier struct {
	clock       Clock
	cfg         Config
	onInterrupt func(Event)
	metrics     Metrics

	detected    bool
	count       uint32
	accumulator float64
	lastHigh    time.Time // zero when no above-threshold tick is pending
	prevVolume  float64
}

// New creates a Classifier.
func New(clock Clock, cfg Config, opts ...Option) *Classifier {
	c := &Classifier{clock: clock, cfg: cfg}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetConfig swaps the tunables. State is kept.
func (c *Classifier) SetConfig(cfg Config) { c.cfg = cfg }

// Config returns the active tunables.
func (c *Classifier) Config() Config { return c.cfg }

// Detected reports whether an interruption is confirmed and not yet reset.
func (c *Classifier) Detected() bool { return c.detected }

// Count returns the number of confirmed interruptions.
func (c *Classifier) Count() uint32 { return c.count }

// SetCount overrides the interruption counter.
func (c *Classifier) SetCount(n uint32) { c.count = n }

// Accumulator returns the current hysteresis score.
func (c *Classifier) Accumulator() float64 { return c.accumulator }

// Reset clears the detected flag and the accumulator. The count is kept.
func (c *Classifier) Reset() {
	c.detected = false
	c.accumulator = 0
	c.lastHigh = time.Time{}
	c.prevVolume = 0
}

// Detect classifies one sample. It does nothing while playback is inactive
// or while a confirmed interruption is latched.
func (c *Classifier) Detect(s Sample, playbackActive bool) Decision {
	if !playbackActive || c.detected {
		return Decision{Heuristic: None, Score: c.accumulator}
	}

	cfg := c.cfg
	now := c.clock.Now()
	v := s.Volume
	// The first tick after silence or Reset has nothing to spike against.
	spike := c.prevVolume > 0 && v >= cfg.Transient.SpikeFactor*c.prevVolume
	c.prevVolume = v

	if v > cfg.ExtremeVolume {
		return c.confirm(ExtremeVolume, v, now, c.accumulator)
	}

	var b Bands
	spectral := len(s.Spectrum) > 0
	if spectral {
		b = Analyze(s.Spectrum)

		if c.isDoorbell(b) {
			if v > cfg.Doorbell.VolumeFactor*cfg.BaseThreshold {
				return c.confirm(Doorbell, v, now, c.accumulator)
			}
			return Decision{Heuristic: Doorbell, Score: c.accumulator}
		}
		if c.isSneeze(b, v) && v > cfg.BaseThreshold {
			return c.confirm(Sneeze, v, now, c.accumulator)
		}
	}

	if v <= cfg.BaseThreshold {
		return c.quiet(now)
	}
	c.lastHigh = now

	switch {
	case spectral && spike && above(b.High, b.Low, cfg.Transient.HighOverLow):
		return c.add(Transient, cfg.TransientIncrement, v, now)
	case spectral && b.StdDev < cfg.Broadband.MaxStdDev && b.Mean > cfg.Broadband.MinMean:
		c.accumulator = max(0, c.accumulator-cfg.BroadbandDecrement)
		return Decision{Heuristic: Broadband, Score: c.accumulator}
	case spectral && c.isVoice(b):
		return c.add(Voice, cfg.VoiceIncrement, v, now)
	default:
		return c.add(Volume, cfg.VolumeIncrement, v, now)
	}
}

func (c *Classifier) isDoorbell(b Bands) bool {
	d := c.cfg.Doorbell
	if b.MidHigh <= d.MinMidHigh || !above(b.MidHigh, b.Low, d.OverLow) || !above(b.MidHigh, b.High, d.OverHigh) {
		return false
	}
	for _, p := range b.Peaks {
		if p.Magnitude > d.PeakMagnitude && p.Prominence > d.PeakProminence {
			return true
		}
	}
	return false
}

func (c *Classifier) isSneeze(b Bands, v float64) bool {
	s := c.cfg.Sneeze
	return v > s.MinVolume && b.High > s.MinHigh && b.Mid > s.MinMid && above(b.High, b.Low, s.HighOverLow)
}

func (c *Classifier) isVoice(b Bands) bool {
	vc := c.cfg.Voice
	return b.Low > vc.MinLow && b.LowMid > vc.MinLowMid && b.Low > vc.LowOverMidHigh*b.MidHigh
}

// quiet handles a tick at or below the base threshold.
func (c *Classifier) quiet(now time.Time) Decision {
	if !c.lastHigh.IsZero() && now.Sub(c.lastHigh) > c.cfg.SilenceReset {
		c.accumulator = 0
		c.lastHigh = time.Time{}
		return Decision{Heuristic: SilenceReset}
	}
	c.accumulator = max(0, c.accumulator-c.cfg.Decay)
	return Decision{Heuristic: Decay, Score: c.accumulator}
}

// add raises the accumulator and confirms if it now exceeds the threshold.
func (c *Classifier) add(h Heuristic, inc, v float64, now time.Time) Decision {
	c.accumulator += inc
	if c.accumulator > c.cfg.ConfirmThreshold {
		return c.confirm(h, v, now, c.accumulator)
	}
	return Decision{Heuristic: h, Score: c.accumulator}
}

func (c *Classifier) confirm(h Heuristic, v float64, now time.Time, score float64) Decision {
	c.detected = true
	c.count++
	c.accumulator = 0
	c.lastHigh = time.Time{}

	slog.Info("interrupt: confirmed", "heuristic", h.String(), "volume", v, "score", score, "count", c.count)
	if c.metrics != nil {
		c.metrics.RecordInterruption(context.Background(), h.String())
	}
	if c.onInterrupt != nil {
		c.onInterrupt(Event{Heuristic: h, Count: c.count, Volume: v, At: now})
	}
	return Decision{Heuristic: h, Confirmed: true, Score: score}
}

// above reports a > factor*b.
func above(a, b, factor float64) bool {
	return a > factor*b
}
