package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no member of a [Group] produced a result.
var ErrAllFailed = errors.New("resilience: all providers failed")

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group holds backends of one kind in preference order. Members are added
// during wiring; a Group must not be modified once calls are in flight.
type Group[T any] struct {
	cfg     BreakerConfig
	members []member[T]
}

// NewGroup returns an empty group whose members get breakers built from cfg.
// cfg.Name is replaced by each member's name.
func NewGroup[T any](cfg BreakerConfig) *Group[T] {
	return &Group[T]{cfg: cfg}
}

// Add appends a backend behind the ones already added.
func (g *Group[T]) Add(name string, value T) {
	cfg := g.cfg
	cfg.Name = name
	g.members = append(g.members, member[T]{name: name, value: value, breaker: NewBreaker(cfg)})
}

// Len returns the number of members.
func (g *Group[T]) Len() int { return len(g.members) }

// Primary returns the first member. ok is false for an empty group.
func (g *Group[T]) Primary() (name string, value T, ok bool) {
	if len(g.members) == 0 {
		return "", value, false
	}
	return g.members[0].name, g.members[0].value, true
}

// Breaker returns the breaker guarding the named member, or nil.
func (g *Group[T]) Breaker(name string) *Breaker {
	for i := range g.members {
		if g.members[i].name == name {
			return g.members[i].breaker
		}
	}
	return nil
}

// Do calls fn against each member in order and returns the first success
// together with the name of the member that produced it. A cancelled ctx
// stops the walk and is returned unwrapped.
func Do[T, R any](ctx context.Context, g *Group[T], fn func(context.Context, T) (R, error)) (R, string, error) {
	var (
		zero    R
		lastErr error
	)
	if len(g.members) == 0 {
		return zero, "", fmt.Errorf("%w: no providers configured", ErrAllFailed)
	}
	for i := range g.members {
		m := &g.members[i]
		var out R
		err := m.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx, m.value)
			return err
		})
		if err == nil {
			return out, m.name, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, "", ctxErr
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			slog.Debug("provider skipped, circuit open", "provider", m.name)
			continue
		}
		slog.Warn("provider failed, trying next", "provider", m.name, "err", err)
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
