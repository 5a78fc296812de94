// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to inject VADEvent responses and inspect the frames that were
// submitted for processing. Use Monitor to script the volume, spectrum and
// speech state seen by consumers of [vad.Monitor].
//
// Example:
//
//	sess := &mock.Session{
//	    EventResult: vad.VADEvent{Type: vad.VADSpeechStart, Probability: 0.9},
//	}
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(cfg)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Reset clears all recorded calls. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// ProcessFrameCall records a single invocation of Session.ProcessFrame.
type ProcessFrameCall struct {
	// Frame is a copy of the bytes passed to ProcessFrame.
	Frame []byte
}

// Session is a mock implementation of vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	// EventResult is returned by every ProcessFrame call.
	EventResult vad.VADEvent

	// ProcessFrameErr, if non-nil, is returned by every ProcessFrame call.
	ProcessFrameErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// ProcessFrameCalls records every call to ProcessFrame in order.
	ProcessFrameCalls []ProcessFrameCall

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// ProcessFrame records the call and returns EventResult, ProcessFrameErr.
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.ProcessFrameCalls = append(s.ProcessFrameCalls, ProcessFrameCall{Frame: cp})
	return s.EventResult, s.ProcessFrameErr
}

// Reset records the call by incrementing ResetCallCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// ResetCalls clears all recorded call history. Thread-safe.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProcessFrameCalls = nil
	s.ResetCallCount = 0
	s.CloseCallCount = 0
}

// Ensure Session implements vad.SessionHandle at compile time.
var _ vad.SessionHandle = (*Session)(nil)

// Monitor is a scriptable implementation of [vad.Monitor]. Set the exported
// fields (under no concurrent access) or use the setters; fire speech
// callbacks with [Monitor.StartSpeech] and [Monitor.EndSpeech].
type Monitor struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by StartListening.
	StartErr error

	// CalibrateErr, if non-nil, is returned by Calibrate.
	CalibrateErr error

	// CalibratedThreshold, if non-zero, becomes the threshold after a
	// successful Calibrate.
	CalibratedThreshold float64

	// CalibrateCalls counts Calibrate invocations.
	CalibrateCalls int

	// StopCalls counts StopListening invocations.
	StopCalls int

	volume    float64
	threshold float64
	spectrum  []float64
	stream    audio.Stream
	speaking  bool
	ends      int
	onStart   func()
	onEnd     func()
}

// SetSample sets the volume and spectrum returned by Volume and Sample.
func (m *Monitor) SetSample(volume float64, spectrum []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volume = volume
	m.spectrum = append([]float64(nil), spectrum...)
}

// StartSpeech marks speech active and runs the OnSpeechStart handler.
func (m *Monitor) StartSpeech() {
	m.mu.Lock()
	m.speaking = true
	fn := m.onStart
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// EndSpeech marks speech inactive, counts the segment and runs the
// OnSpeechEnd handler.
func (m *Monitor) EndSpeech() {
	m.mu.Lock()
	m.speaking = false
	m.ends++
	fn := m.onEnd
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Volume implements [vad.Monitor].
func (m *Monitor) Volume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume
}

// Threshold implements [vad.Monitor].
func (m *Monitor) Threshold() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threshold
}

// SetThreshold implements [vad.Monitor].
func (m *Monitor) SetThreshold(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threshold = v
}

// IsListening implements [vad.Monitor].
func (m *Monitor) IsListening() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream != nil
}

// StartListening implements [vad.Monitor].
func (m *Monitor) StartListening(stream audio.Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StartErr != nil {
		return m.StartErr
	}
	if stream == nil || !stream.Live() {
		return vad.ErrNoLiveTrack
	}
	m.stream = stream
	return nil
}

// StopListening implements [vad.Monitor].
func (m *Monitor) StopListening() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StopCalls++
	m.stream = nil
	m.speaking = false
}

// Calibrate implements [vad.Monitor]. It returns immediately.
func (m *Monitor) Calibrate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CalibrateCalls++
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.stream == nil {
		return vad.ErrNotListening
	}
	if m.CalibrateErr != nil {
		return m.CalibrateErr
	}
	if m.CalibratedThreshold != 0 {
		m.threshold = m.CalibratedThreshold
	}
	return nil
}

// IsCalibrating implements [vad.Monitor]. Always false.
func (m *Monitor) IsCalibrating() bool { return false }

// CalibrationProgress implements [vad.Monitor].
func (m *Monitor) CalibrationProgress() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CalibrateCalls > 0 {
		return 100
	}
	return 0
}

// Stream implements [vad.Monitor].
func (m *Monitor) Stream() audio.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

// SpeechActive implements [vad.Monitor].
func (m *Monitor) SpeechActive() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.speaking {
		return 1
	}
	return 0
}

// SpeechEndCount implements [vad.Monitor].
func (m *Monitor) SpeechEndCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ends
}

// Sample implements [vad.Monitor].
func (m *Monitor) Sample() vad.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return vad.Snapshot{Volume: m.volume, Spectrum: append([]float64(nil), m.spectrum...)}
}

// OnSpeechStart implements [vad.Monitor].
func (m *Monitor) OnSpeechStart(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStart = fn
}

// OnSpeechEnd implements [vad.Monitor].
func (m *Monitor) OnSpeechEnd(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnd = fn
}

// Ensure Monitor implements vad.Monitor at compile time.
var _ vad.Monitor = (*Monitor)(nil)
