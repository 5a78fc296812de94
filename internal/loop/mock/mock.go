// Package mock provides a virtual-time [loop.Scheduler] for tests.
//
// Nothing runs until the test drives the scheduler: [Scheduler.RunPending]
// executes posted callbacks, and [Scheduler.Advance] moves the virtual clock
// forward, firing due timers in deadline order.
//
// Example:
//
//	sched := mock.New()
//	q := playback.New(p, sched, store)
//	q.Enqueue(item)
//	sched.Advance(50 * time.Millisecond) // settling delay elapses, item plays
package mock

import (
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/loop"
)

// Epoch is the virtual time a new Scheduler starts at.
var Epoch = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

// Scheduler is a manually driven [loop.Scheduler].
type Scheduler struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*Timer
	posted []func()
}

// Compile-time interface assertion.
var _ loop.Scheduler = (*Scheduler)(nil)

// New returns a Scheduler whose clock reads [Epoch].
func New() *Scheduler {
	return &Scheduler{now: Epoch}
}

// Timer is a pending virtual timer.
type Timer struct {
	s       *Scheduler
	at      time.Time
	seq     uint64
	fn      func()
	stopped bool

	// Delay is the duration the timer was created with.
	Delay time.Duration
}

// Stop implements [loop.Timer].
func (t *Timer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	t.s.removeLocked(t)
	return true
}

// Post implements [loop.Scheduler]. The callback runs on the next
// RunPending or Advance.
func (s *Scheduler) Post(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posted = append(s.posted, fn)
}

// AfterFunc implements [loop.Scheduler].
func (s *Scheduler) AfterFunc(d time.Duration, fn func()) loop.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &Timer{s: s, at: s.now.Add(d), seq: s.seq, fn: fn, Delay: d}
	s.timers = append(s.timers, t)
	return t
}

// Now implements [loop.Scheduler].
func (s *Scheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// RunPending executes posted callbacks until none remain. Timers are not
// fired, even if they are due.
func (s *Scheduler) RunPending() {
	for {
		s.mu.Lock()
		if len(s.posted) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.posted[0]
		s.posted = s.posted[1:]
		s.mu.Unlock()
		fn()
	}
}

// Advance moves the clock forward by d. Posted callbacks run first, then
// every timer due within the window fires in deadline order with the clock
// set to its deadline. Callbacks posted by a timer run before the next timer.
func (s *Scheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	for {
		s.RunPending()

		s.mu.Lock()
		next := s.nextDueLocked(target)
		if next == nil {
			s.now = target
			s.mu.Unlock()
			break
		}
		next.stopped = true
		s.removeLocked(next)
		s.now = next.at
		s.mu.Unlock()

		next.fn()
	}
	s.RunPending()
}

// Pending returns the delays of all live timers, ordered by deadline.
func (s *Scheduler) Pending() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := make([]*Timer, len(s.timers))
	copy(ts, s.timers)
	sortTimers(ts)
	out := make([]time.Duration, len(ts))
	for i, t := range ts {
		out[i] = t.Delay
	}
	return out
}

func (s *Scheduler) nextDueLocked(target time.Time) *Timer {
	if len(s.timers) == 0 {
		return nil
	}
	ts := make([]*Timer, len(s.timers))
	copy(ts, s.timers)
	sortTimers(ts)
	if ts[0].at.After(target) {
		return nil
	}
	return ts[0]
}

func (s *Scheduler) removeLocked(t *Timer) {
	for i, other := range s.timers {
		if other == t {
			s.timers = append(s.timers[:i], s.timers[i+1:]...)
			return
		}
	}
}

func sortTimers(ts []*Timer) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].at.Equal(ts[j].at) {
			return ts[i].at.Before(ts[j].at)
		}
		return ts[i].seq < ts[j].seq
	})
}
