// Package mock provides a scripted player.Backend for tests.
//
// Every Open creates an [Element] that the test can finish with
// [Element.End] or fail with [Element.Fail], standing in for the speaker's
// end-of-stream and decode-error reports.
//
// Example:
//
//	b := &mock.Backend{}
//	p := player.New(b, sched, store)
//	p.Play("blob:a", 1)
//	b.Last().End()
//	sched.RunPending() // end callback runs on the loop
package mock

import (
	"sync"

	"github.com/MrWong99/parley/pkg/audio/player"
)

// Element is a mock implementation of player.Element.
type Element struct {
	mu sync.Mutex

	// URI and Rate are the arguments Open was called with.
	URI  string
	Rate float64

	// StartErr, if non-nil, is returned from Start.
	StartErr error

	started bool
	stops   int
	onEnd   func()
	onError func(error)
}

// Start records the callbacks and returns StartErr.
func (e *Element) Start(onEnd func(), onError func(error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.StartErr != nil {
		return e.StartErr
	}
	e.started = true
	e.onEnd, e.onError = onEnd, onError
	return nil
}

// Stop records the call.
func (e *Element) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
}

// End reports natural completion, as the speaker would, even if the element
// was stopped. The player is expected to ignore reports from stale elements.
func (e *Element) End() {
	e.mu.Lock()
	fn := e.onEnd
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Fail reports a playback failure.
func (e *Element) Fail(err error) {
	e.mu.Lock()
	fn := e.onError
	e.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Started reports whether Start succeeded.
func (e *Element) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// Stops returns how many times Stop was called.
func (e *Element) Stops() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stops
}

// Backend is a mock implementation of player.Backend.
type Backend struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// OpenErr, if non-nil, is returned from every Open.
	OpenErr error

	// StartErr, if non-nil, is set on every element Open creates.
	StartErr error

	// --- Call records ---

	// Elements holds every element created by Open, in order.
	Elements []*Element

	// StopAllCalls counts calls to StopAll.
	StopAllCalls int
}

// Open records the call and returns a new Element or OpenErr.
func (b *Backend) Open(uri string, rate float64) (player.Element, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}
	e := &Element{URI: uri, Rate: rate, StartErr: b.StartErr}
	b.Elements = append(b.Elements, e)
	return e, nil
}

// StopAll records the call.
func (b *Backend) StopAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.StopAllCalls++
}

// Last returns the most recently opened element, or nil.
func (b *Backend) Last() *Element {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Elements) == 0 {
		return nil
	}
	return b.Elements[len(b.Elements)-1]
}

// Opened returns the URIs passed to Open, in order.
func (b *Backend) Opened() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	uris := make([]string, len(b.Elements))
	for i, e := range b.Elements {
		uris[i] = e.URI
	}
	return uris
}

// Ensure Backend implements player.Backend at compile time.
var _ player.Backend = (*Backend)(nil)
