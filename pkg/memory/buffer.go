package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Buffer is an in-process [Store]. It keeps at most maxEntries per
// conversation and drops the oldest first.
type Buffer struct {
	maxEntries int

	mu    sync.RWMutex
	convs map[string][]Entry
}

var _ Store = (*Buffer)(nil)

// NewBuffer returns an empty Buffer. maxEntries <= 0 means unbounded.
func NewBuffer(maxEntries int) *Buffer {
	return &Buffer{maxEntries: maxEntries, convs: make(map[string][]Entry)}
}

// Append implements [Store].
func (b *Buffer) Append(ctx context.Context, entries ...Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range entries {
		list := append(b.convs[e.ConversationID], e)
		if b.maxEntries > 0 && len(list) > b.maxEntries {
			list = slices.Clone(list[len(list)-b.maxEntries:])
		}
		b.convs[e.ConversationID] = list
	}
	return nil
}

// Recent implements [Store].
func (b *Buffer) Recent(ctx context.Context, conversationID string, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	list := b.convs[conversationID]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return append([]Entry{}, list...), nil
}

// Search implements [Store] with case-insensitive substring matching.
func (b *Buffer) Search(ctx context.Context, query string, opts SearchOpts) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	words := strings.Fields(strings.ToLower(query))
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	b.mu.RLock()
	out := []Entry{}
	for id, list := range b.convs {
		if opts.ConversationID != "" && id != opts.ConversationID {
			continue
		}
		for _, e := range list {
			if matches(e, words, opts) {
				out = append(out, e)
			}
		}
	}
	b.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b Entry) int { return a.At.Compare(b.At) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count implements [Store].
func (b *Buffer) Count(ctx context.Context, conversationID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.convs[conversationID]), nil
}

func matches(e Entry, words []string, opts SearchOpts) bool {
	if opts.Role != "" && e.Role != opts.Role {
		return false
	}
	if !opts.After.IsZero() && !e.At.After(opts.After) {
		return false
	}
	if !opts.Before.IsZero() && !e.At.Before(opts.Before) {
		return false
	}
	text := strings.ToLower(e.Text)
	for _, w := range words {
		if !strings.Contains(text, w) {
			return false
		}
	}
	return true
}
