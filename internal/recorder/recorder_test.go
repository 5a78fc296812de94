package recorder_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/loop/mock"
	"github.com/MrWong99/parley/internal/recorder"
	"github.com/MrWong99/parley/pkg/audio"
	audiomock "github.com/MrWong99/parley/pkg/audio/mock"
)

var mono16k = audio.Format{SampleRate: 16000, Channels: 1}

func liveMic() *audiomock.Stream {
	return &audiomock.Stream{LiveResult: true, FormatResult: mono16k}
}

type completions struct{ got []recorder.Recording }

func (c *completions) add(r recorder.Recording) { c.got = append(c.got, r) }

type fakeMetrics struct{ modes []string }

func (m *fakeMetrics) RecordRecording(_ context.Context, mode string, _ time.Duration) {
	m.modes = append(m.modes, mode)
}

func TestToggleManual_NoLiveTrack(t *testing.T) {
	t.Parallel()
	sched := mock.New()
	done := &completions{}
	r := recorder.New(sched, recorder.WithOnComplete(done.add))

	r.ToggleManual(&audiomock.Stream{LiveResult: false})
	r.ToggleManual(nil)

	if r.State() != recorder.StateIdle {
		t.Errorf("state = %v, want IDLE", r.State())
	}
	if len(sched.Pending()) != 0 {
		t.Error("expiry timer armed without a session")
	}
	if len(done.got) != 0 {
		t.Error("completion invoked without a session")
	}
}

func TestToggleManual_TwiceDeliversOnce(t *testing.T) {
	t.Parallel()
	sched := mock.New()
	done := &completions{}
	m := &fakeMetrics{}
	r := recorder.New(sched, recorder.WithOnComplete(done.add), recorder.WithMetrics(m))
	mic := liveMic()

	r.ToggleManual(mic)
	if !r.IsManualRecording() {
		t.Fatalf("state = %v, want MANUAL_RECORDING", r.State())
	}
	mic.Emit(audio.AudioFrame{Data: []byte{1, 0, 2, 0}, SampleRate: 16000, Channels: 1})
	mic.Emit(audio.AudioFrame{Data: []byte{3, 0}, SampleRate: 16000, Channels: 1})
	sched.RunPending()

	r.ToggleManual(mic)
	r.Stop()

	if r.State() != recorder.StateIdle {
		t.Errorf("state = %v, want IDLE", r.State())
	}
	if len(done.got) != 1 {
		t.Fatalf("completions = %d, want 1", len(done.got))
	}
	rec := done.got[0]
	if rec.Mode != recorder.Manual || rec.MIME != audio.MIMEWAV {
		t.Errorf("recording = mode %v mime %q", rec.Mode, rec.MIME)
	}
	pcm, f, err := audio.DecodeWAV(rec.Data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if !bytes.Equal(pcm, []byte{1, 0, 2, 0, 3, 0}) || f != mono16k {
		t.Errorf("pcm = %v format = %v", pcm, f)
	}
	if mic.Subscribers() != 0 {
		t.Errorf("subscribers = %d after stop", mic.Subscribers())
	}
	if len(sched.Pending()) != 0 {
		t.Errorf("expiry timer still pending: %v", sched.Pending())
	}
	if len(m.modes) != 1 || m.modes[0] != "manual" {
		t.Errorf("metrics = %v", m.modes)
	}
}

func TestManual_ExpiresAfterMaxDuration(t *testing.T) {
	t.Parallel()
	sched := mock.New()
	done := &completions{}
	r := recorder.New(sched, recorder.WithOnComplete(done.add))

	r.ToggleManual(liveMic())
	if dl, ok := r.Deadline(); !ok || dl.Sub(sched.Now()) != recorder.DefaultMaxManualDuration {
		t.Errorf("deadline = %v, %v", dl, ok)
	}

	sched.Advance(recorder.DefaultMaxManualDuration - time.Millisecond)
	if !r.IsManualRecording() {
		t.Fatal("stopped before the maximum duration")
	}
	sched.Advance(time.Millisecond)
	if r.IsRecording() {
		t.Fatal("still recording after the maximum duration")
	}
	if len(done.got) != 1 {
		t.Errorf("completions = %d, want 1", len(done.got))
	}
}

func TestManual_StaleExpiryDoesNotStopNewSession(t *testing.T) {
	t.Parallel()
	sched := mock.New()
	done := &completions{}
	r := recorder.New(sched, recorder.WithOnComplete(done.add), recorder.WithMaxManualDuration(time.Second))
	mic := liveMic()

	r.ToggleManual(mic)
	sched.Advance(500 * time.Millisecond)
	r.Stop()
	r.ToggleManual(mic)
	sched.Advance(600 * time.Millisecond) // the first session's deadline passes

	if !r.IsManualRecording() {
		t.Fatal("second session stopped by the first session's timer")
	}
	sched.Advance(400 * time.Millisecond)
	if r.IsRecording() {
		t.Error("second session did not expire")
	}
	if len(done.got) != 2 {
		t.Errorf("completions = %d, want 2", len(done.got))
	}
}

func TestStart_Guards(t *testing.T) {
	t.Parallel()
	sched := mock.New()
	done := &completions{}
	r := recorder.New(sched, recorder.WithOnComplete(done.add))
	mic := liveMic()

	if r.Start(&audiomock.Stream{}) {
		t.Error("Start succeeded without a live track")
	}
	if !r.Start(mic) {
		t.Fatal("Start failed on a live stream")
	}
	if r.Start(mic) {
		t.Error("second Start was not rejected")
	}
	if mic.CallCountSubscribe != 1 {
		t.Errorf("subscriptions = %d, want 1", mic.CallCountSubscribe)
	}
	if r.State() != recorder.StateRecording {
		t.Errorf("state = %v, want RECORDING", r.State())
	}

	r.Stop()
	r.Stop()
	if len(done.got) != 1 || done.got[0].Mode != recorder.Automatic {
		t.Errorf("completions = %+v", done.got)
	}
}

func TestStop_DropsLateChunks(t *testing.T) {
	t.Parallel()
	sched := mock.New()
	done := &completions{}
	r := recorder.New(sched, recorder.WithOnComplete(done.add))
	mic := liveMic()

	r.Start(mic)
	mic.Emit(audio.AudioFrame{Data: []byte{1, 0}})
	// The chunk is still queued on the loop when the session ends.
	r.Stop()
	r.Start(mic)
	sched.RunPending()
	r.Stop()

	if len(done.got) != 2 {
		t.Fatalf("completions = %d, want 2", len(done.got))
	}
	for i, rec := range done.got {
		pcm, _, err := audio.DecodeWAV(rec.Data)
		if err != nil {
			t.Fatal(err)
		}
		if len(pcm) != 0 {
			t.Errorf("recording %d has %d bytes from a finished session", i, len(pcm))
		}
	}
}

func TestToggleManual_PromotesAutomatic(t *testing.T) {
	t.Parallel()
	sched := mock.New()
	r := recorder.New(sched, recorder.WithMaxManualDuration(time.Second))
	mic := liveMic()

	r.Start(mic)
	r.ToggleManual(mic)
	if !r.IsManualRecording() {
		t.Fatalf("state = %v, want MANUAL_RECORDING", r.State())
	}
	if mic.CallCountSubscribe != 1 {
		t.Errorf("promotion opened a second session")
	}
	sched.Advance(time.Second)
	if r.IsRecording() {
		t.Error("promoted session did not expire")
	}
}

func TestTargetFormat_ConvertsChunks(t *testing.T) {
	t.Parallel()
	sched := mock.New()
	done := &completions{}
	r := recorder.New(sched, recorder.WithOnComplete(done.add), recorder.WithTargetFormat(mono16k))
	mic := &audiomock.Stream{LiveResult: true, FormatResult: audio.Format{SampleRate: 16000, Channels: 2}}

	r.Start(mic)
	mic.Emit(audio.AudioFrame{Data: []byte{10, 0, 20, 0}, SampleRate: 16000, Channels: 2})
	sched.RunPending()
	r.Stop()

	pcm, f, err := audio.DecodeWAV(done.got[0].Data)
	if err != nil {
		t.Fatal(err)
	}
	if f != mono16k || !bytes.Equal(pcm, []byte{15, 0}) {
		t.Errorf("pcm = %v format = %v, want [15 0] mono", pcm, f)
	}
	if done.got[0].Duration != mono16k.Duration(2) {
		t.Errorf("duration = %v", done.got[0].Duration)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[recorder.State]string{
		recorder.StateIdle:            "IDLE",
		recorder.StateRecording:       "RECORDING",
		recorder.StateManualRecording: "MANUAL_RECORDING",
		recorder.State(42):             "UNKNOWN",
	} {
		if got := s.String(); got != want {
			t.Errorf("%d: got %q, want %q", s, got, want)
		}
	}
}
