package vad_test

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	audiomock "github.com/MrWong99/parley/pkg/audio/mock"
	"github.com/MrWong99/parley/pkg/provider/vad"
	"github.com/MrWong99/parley/pkg/provider/vad/energy"
)

var mono16k = audio.Format{SampleRate: 16000, Channels: 1}

// tone returns one 20ms frame of a sine at hz with peak amplitude amp.
func tone(hz, amp float64) audio.AudioFrame {
	const n = 320
	b := make([]byte, n*2)
	for i := range n {
		v := amp * math.Sin(2*math.Pi*hz*float64(i)/16000)
		binary.LittleEndian.PutUint16(b[i*2:], uint16(int16(v*32767)))
	}
	return audio.AudioFrame{Data: b, SampleRate: 16000, Channels: 1}
}

// level returns one 20ms frame of alternating ±amp, whose RMS is amp.
func level(amp float64) audio.AudioFrame {
	const n = 320
	b := make([]byte, n*2)
	s := int16(amp * 32768)
	for i := range n {
		v := s
		if i%2 == 1 {
			v = -s
		}
		binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
	}
	return audio.AudioFrame{Data: b, SampleRate: 16000, Channels: 1}
}

func newListener(t *testing.T, opts ...vad.ListenerOption) (*vad.Listener, *audiomock.Stream) {
	t.Helper()
	eng := energy.New(energy.WithStartFrames(1), energy.WithHangoverFrames(2))
	l := vad.NewListener(eng, energy.DefaultConfig(), opts...)
	mic := &audiomock.Stream{LiveResult: true, FormatResult: mono16k}
	if err := l.StartListening(mic); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	t.Cleanup(l.StopListening)
	return l, mic
}

func TestListener_SpeechStartAndEnd(t *testing.T) {
	t.Parallel()
	l, mic := newListener(t)
	var starts, ends atomic.Int32
	l.OnSpeechStart(func() { starts.Add(1) })
	l.OnSpeechEnd(func() { ends.Add(1) })

	mic.Emit(tone(1500, 0.05))
	mic.Emit(tone(1500, 0.05))
	if starts.Load() != 1 || l.SpeechActive() != 1 {
		t.Fatalf("starts = %d, active = %d", starts.Load(), l.SpeechActive())
	}
	if v := l.Volume(); math.Abs(v-0.05/math.Sqrt2) > 0.002 {
		t.Errorf("volume = %v, want ~%v", v, 0.05/math.Sqrt2)
	}

	mic.Emit(level(0))
	mic.Emit(level(0))
	if ends.Load() != 1 || l.SpeechActive() != 0 || l.SpeechEndCount() != 1 {
		t.Errorf("ends = %d, active = %d, count = %d", ends.Load(), l.SpeechActive(), l.SpeechEndCount())
	}
}

func TestListener_SpectrumPeaksAtToneBin(t *testing.T) {
	t.Parallel()
	l, mic := newListener(t)
	mic.Emit(tone(1500, 0.05)) // 1500 Hz / (16000/256) = bin 24

	s := l.Sample()
	if len(s.Spectrum) != 128 {
		t.Fatalf("spectrum bins = %d, want 128", len(s.Spectrum))
	}
	peak := 0
	for i, v := range s.Spectrum {
		if v < 0 || v > 255 {
			t.Fatalf("bin %d = %v outside 0..255", i, v)
		}
		if v > s.Spectrum[peak] {
			peak = i
		}
	}
	if peak != 24 {
		t.Errorf("peak bin = %d, want 24", peak)
	}

	// The snapshot is a copy.
	s.Spectrum[0] = -1
	if l.Sample().Spectrum[0] == -1 {
		t.Error("Sample exposed internal spectrum")
	}
}

func TestListener_SplitsArbitraryChunks(t *testing.T) {
	t.Parallel()
	l, mic := newListener(t)
	var starts atomic.Int32
	l.OnSpeechStart(func() { starts.Add(1) })

	f := level(0.1)
	mic.Emit(audio.AudioFrame{Data: f.Data[:300], SampleRate: 16000, Channels: 1})
	if starts.Load() != 0 {
		t.Fatal("partial frame was processed")
	}
	mic.Emit(audio.AudioFrame{Data: f.Data[300:], SampleRate: 16000, Channels: 1})
	if starts.Load() != 1 {
		t.Errorf("starts = %d after a full frame, want 1", starts.Load())
	}
}

func TestListener_Calibrate(t *testing.T) {
	t.Parallel()
	l, mic := newListener(t, vad.WithCalibration(100*time.Millisecond, 2))

	errCh := make(chan error, 1)
	go func() { errCh <- l.Calibrate(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for !l.IsCalibrating() {
		if time.Now().After(deadline) {
			t.Fatal("calibration did not start")
		}
		time.Sleep(time.Millisecond)
	}
	if err := l.Calibrate(context.Background()); !errors.Is(err, vad.ErrCalibrating) {
		t.Errorf("concurrent Calibrate = %v, want ErrCalibrating", err)
	}

	for range 5 {
		mic.Emit(level(0.02))
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Calibrate: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Calibrate did not return")
	}

	if got := l.Threshold(); math.Abs(got-0.04) > 0.001 {
		t.Errorf("threshold = %v, want ~0.04", got)
	}
	if l.CalibrationProgress() != 100 || l.IsCalibrating() {
		t.Errorf("progress = %d, calibrating = %v", l.CalibrationProgress(), l.IsCalibrating())
	}
}

func TestListener_CalibrateCancelled(t *testing.T) {
	t.Parallel()
	l, _ := newListener(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Calibrate(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if l.IsCalibrating() {
		t.Error("still calibrating after cancel")
	}
}

func TestListener_AdaptiveThreshold(t *testing.T) {
	t.Parallel()
	l, mic := newListener(t, vad.WithAdaptiveThreshold(0.8))
	mic.Emit(level(0.1))
	if got := l.Threshold(); math.Abs(got-0.016) > 1e-9 {
		t.Errorf("threshold after first speech = %v, want 0.016", got)
	}
	mic.Emit(level(0))
	mic.Emit(level(0))
	mic.Emit(level(0.1))
	if got := l.Threshold(); math.Abs(got-0.016) > 1e-9 {
		t.Errorf("threshold adapted twice: %v", got)
	}
}

func TestListener_Errors(t *testing.T) {
	t.Parallel()
	l := vad.NewListener(energy.New(), energy.DefaultConfig())
	if err := l.StartListening(&audiomock.Stream{}); !errors.Is(err, vad.ErrNoLiveTrack) {
		t.Errorf("StartListening(dead) = %v, want ErrNoLiveTrack", err)
	}
	if err := l.Calibrate(context.Background()); !errors.Is(err, vad.ErrNotListening) {
		t.Errorf("Calibrate before listening = %v, want ErrNotListening", err)
	}
	if l.IsListening() || l.Stream() != nil {
		t.Error("listening without a stream")
	}
	l.StopListening()
}

func TestListener_StopListeningUnsubscribes(t *testing.T) {
	t.Parallel()
	l, mic := newListener(t)
	l.StopListening()
	l.StopListening()
	if mic.Subscribers() != 0 || l.IsListening() {
		t.Errorf("subscribers = %d, listening = %v", mic.Subscribers(), l.IsListening())
	}
}
