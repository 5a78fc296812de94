package session

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/parley/pkg/memory"
)

// MemoryGuard wraps a [memory.Store] and turns its failures into warnings.
// Reads return empty results and writes are dropped while the store fails,
// so a database outage never breaks a conversation turn.
type MemoryGuard struct {
	store    memory.Store
	degraded atomic.Bool
}

var _ memory.Store = (*MemoryGuard)(nil)

// NewMemoryGuard wraps store.
func NewMemoryGuard(store memory.Store) *MemoryGuard {
	return &MemoryGuard{store: store}
}

// Append implements [memory.Store]. It never returns an error.
func (mg *MemoryGuard) Append(ctx context.Context, entries ...memory.Entry) error {
	if err := mg.store.Append(ctx, entries...); err != nil {
		mg.markFailed("Append", err)
		return nil
	}
	mg.degraded.Store(false)
	return nil
}

// Recent implements [memory.Store]. On failure it returns an empty slice.
func (mg *MemoryGuard) Recent(ctx context.Context, conversationID string, limit int) ([]memory.Entry, error) {
	entries, err := mg.store.Recent(ctx, conversationID, limit)
	if err != nil {
		mg.markFailed("Recent", err, "conversation_id", conversationID)
		return []memory.Entry{}, nil
	}
	mg.degraded.Store(false)
	return entries, nil
}

// Search implements [memory.Store]. On failure it returns an empty slice.
func (mg *MemoryGuard) Search(ctx context.Context, query string, opts memory.SearchOpts) ([]memory.Entry, error) {
	entries, err := mg.store.Search(ctx, query, opts)
	if err != nil {
		mg.markFailed("Search", err, "query", query)
		return []memory.Entry{}, nil
	}
	mg.degraded.Store(false)
	return entries, nil
}

// Count implements [memory.Store]. On failure it returns 0.
func (mg *MemoryGuard) Count(ctx context.Context, conversationID string) (int, error) {
	n, err := mg.store.Count(ctx, conversationID)
	if err != nil {
		mg.markFailed("Count", err, "conversation_id", conversationID)
		return 0, nil
	}
	mg.degraded.Store(false)
	return n, nil
}

// IsDegraded reports whether the most recent store call failed.
func (mg *MemoryGuard) IsDegraded() bool {
	return mg.degraded.Load()
}

func (mg *MemoryGuard) markFailed(op string, err error, attrs ...any) {
	mg.degraded.Store(true)
	slog.Warn("memory guard: store call failed", append([]any{"op", op, "err", err}, attrs...)...)
}
