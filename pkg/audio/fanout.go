package audio

import "sync"

// Fanout delivers frames to a dynamic set of subscribers. It implements the
// subscription half of [Stream] for capture sources. The zero value is ready
// to use and safe for concurrent use.
type Fanout struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]func(AudioFrame)
}

// Subscribe registers fn and returns an idempotent cancel function.
func (f *Fanout) Subscribe(fn func(AudioFrame)) (unsubscribe func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[uint64]func(AudioFrame))
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs, id)
		})
	}
}

// Publish calls every subscriber with frame on the calling goroutine.
// Subscribers added or removed during Publish take effect on the next call.
func (f *Fanout) Publish(frame AudioFrame) {
	f.mu.Lock()
	fns := make([]func(AudioFrame), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(frame)
	}
}

// Len returns the number of subscribers.
func (f *Fanout) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
