package playback

import (
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// Phase is the queue's position in its drain cycle.
type Phase int

const (
	// Idle: nothing scheduled. A drain may start.
	Idle Phase = iota

	// AwaitingSettle: the head item has been popped and is waiting out its
	// provider's settling delay.
	AwaitingSettle

	// Playing: the player is sounding the current item.
	Playing

	// Cooldown: the current item finished; the next drain is deferred.
	Cooldown
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case Idle:
		return "IDLE"
	case AwaitingSettle:
		return "AWAITING_SETTLE"
	case Playing:
		return "PLAYING"
	case Cooldown:
		return "COOLDOWN"
	default:
		return "UNKNOWN"
	}
}

// state is the complete queue state. It is treated as a value: reduce never
// mutates the slice it receives.
type state struct {
	phase   Phase
	pending []audio.PlaybackItem
	current *audio.PlaybackItem

	// gen is bumped by every clear. Timers carry the generation they were
	// armed in and are ignored once it no longer matches.
	gen uint64
}

// env is what the reducer may observe about the outside world.
type env struct {
	interrupted bool
	playerBusy  bool
}

// timing holds the delays the reducer schedules.
type timing struct {
	primarySource string
	primarySettle time.Duration
	otherSettle   time.Duration
	cooldown      time.Duration
}

func (t timing) settleFor(source string) time.Duration {
	if source == t.primarySource {
		return t.primarySettle
	}
	return t.otherSettle
}

type event interface{ isEvent() }

type (
	evEnqueue      struct{ item audio.PlaybackItem }
	evDrain        struct{}
	evSettled      struct{ gen uint64 }
	evFinished     struct {
		uri    string
		failed bool
	}
	evCooldownDone struct{ gen uint64 }
	evClear        struct{}
)

func (evEnqueue) isEvent()      {}
func (evDrain) isEvent()        {}
func (evSettled) isEvent()      {}
func (evFinished) isEvent()     {}
func (evCooldownDone) isEvent() {}
func (evClear) isEvent()        {}

type effect interface{ isEffect() }

type (
	effScheduleSettle struct {
		item  audio.PlaybackItem
		delay time.Duration
		gen   uint64
	}
	effPlay             struct{ item audio.PlaybackItem }
	effScheduleCooldown struct {
		delay time.Duration
		gen   uint64
	}
	effFinished struct {
		item   audio.PlaybackItem
		failed bool
	}
	effRelease struct {
		item      audio.PlaybackItem
		discarded bool
	}
	effStopAll  struct{}
	effHalted   struct{ interrupted bool }
)

func (effScheduleSettle) isEffect()   {}
func (effPlay) isEffect()             {}
func (effScheduleCooldown) isEffect() {}
func (effFinished) isEffect()         {}
func (effRelease) isEffect()          {}
func (effStopAll) isEffect()          {}
func (effHalted) isEffect()           {}

// reduce is the queue's transition function.
func reduce(s state, ev event, e env, t timing) (state, []effect) {
	switch ev := ev.(type) {
	case evEnqueue:
		s.pending = appendItem(s.pending, ev.item)
		if s.phase == Idle && !e.playerBusy {
			return drain(s, e, t)
		}
		return s, nil

	case evDrain:
		return drain(s, e, t)

	case evSettled:
		if ev.gen != s.gen || s.phase != AwaitingSettle || s.current == nil {
			return s, nil
		}
		item := *s.current
		if e.interrupted {
			s.current = nil
			s.phase = Idle
			return s, []effect{effRelease{item: item, discarded: true}, effHalted{interrupted: true}}
		}
		s.phase = Playing
		return s, []effect{effPlay{item: item}}

	case evFinished:
		switch {
		case s.phase == Playing && s.current != nil && s.current.URI == ev.uri:
			item := *s.current
			s.current = nil
			s.phase = Cooldown
			return s, []effect{
				effFinished{item: item, failed: ev.failed},
				effRelease{item: item},
				effScheduleCooldown{delay: t.cooldown, gen: s.gen},
			}
		case s.phase == Idle && len(s.pending) > 0:
			// Something the queue deferred to has finished. With nothing
			// pending this is a late report, e.g. a failed start landing
			// after Clear, and must not announce idle again.
			return drain(s, e, t)
		default:
			return s, nil
		}

	case evCooldownDone:
		if ev.gen != s.gen || s.phase != Cooldown {
			return s, nil
		}
		s.phase = Idle
		return drain(s, e, t)

	case evClear:
		effects := make([]effect, 0, len(s.pending)+2)
		if s.current != nil {
			effects = append(effects, effRelease{item: *s.current, discarded: true})
		}
		for _, it := range s.pending {
			effects = append(effects, effRelease{item: it, discarded: true})
		}
		effects = append(effects, effStopAll{})
		return state{phase: Idle, gen: s.gen + 1}, effects
	}
	return s, nil
}

// drain starts the next item if and only if nothing is in flight.
func drain(s state, e env, t timing) (state, []effect) {
	if s.phase != Idle {
		return s, nil
	}
	if e.interrupted {
		return s, []effect{effHalted{interrupted: true}}
	}
	if len(s.pending) == 0 {
		return s, []effect{effHalted{}}
	}
	if e.playerBusy {
		return s, nil
	}
	head := s.pending[0]
	s.pending = s.pending[1:len(s.pending):len(s.pending)]
	s.current = &head
	s.phase = AwaitingSettle
	return s, []effect{effScheduleSettle{item: head, delay: t.settleFor(head.Source), gen: s.gen}}
}

func appendItem(items []audio.PlaybackItem, it audio.PlaybackItem) []audio.PlaybackItem {
	out := make([]audio.PlaybackItem, len(items), len(items)+1)
	copy(out, items)
	return append(out, it)
}
