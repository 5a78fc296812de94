package player

import (
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
)

// Observer is the read-only broadcast of what the [Player] is sounding.
// Only the Player publishes; everyone else polls [Observer.Current] or
// subscribes with [Observer.Watch]. Safe for concurrent use.
type Observer struct {
	mu      sync.Mutex
	handle  audio.Handle
	playing bool
	nextID  int
	watches map[int]func(audio.Handle, bool)
}

// NewObserver returns an Observer that reports nothing playing.
func NewObserver() *Observer {
	return &Observer{watches: make(map[int]func(audio.Handle, bool))}
}

// Current returns the audible handle and whether anything is playing.
func (o *Observer) Current() (audio.Handle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.handle, o.playing
}

// Watch calls fn after every change. fn runs on the publisher's goroutine and
// must not block. The returned function removes the watch.
func (o *Observer) Watch(fn func(h audio.Handle, playing bool)) (cancel func()) {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.watches[id] = fn
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.watches, id)
			o.mu.Unlock()
		})
	}
}

func (o *Observer) publish(h audio.Handle, playing bool) {
	o.mu.Lock()
	o.handle, o.playing = h, playing
	fns := make([]func(audio.Handle, bool), 0, len(o.watches))
	for _, fn := range o.watches {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(h, playing)
	}
}
