// Package mock provides a scriptable memory.Store for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/memory"
)

// Store is a mock memory.Store. Appended entries are kept in Entries.
type Store struct {
	mu sync.Mutex

	// Entries holds everything appended so far.
	Entries []memory.Entry

	// RecentResult, if non-nil, is returned by Recent instead of Entries.
	RecentResult []memory.Entry

	// SearchResult is returned by Search.
	SearchResult []memory.Entry

	AppendErr error
	RecentErr error
	SearchErr error
	CountErr  error

	// AppendCalls counts calls to Append.
	AppendCalls int
}

var _ memory.Store = (*Store)(nil)

// Append implements memory.Store.
func (s *Store) Append(_ context.Context, entries ...memory.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AppendCalls++
	if s.AppendErr != nil {
		return s.AppendErr
	}
	s.Entries = append(s.Entries, entries...)
	return nil
}

// Recent implements memory.Store.
func (s *Store) Recent(_ context.Context, conversationID string, limit int) ([]memory.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecentErr != nil {
		return nil, s.RecentErr
	}
	src := s.RecentResult
	if src == nil {
		for _, e := range s.Entries {
			if e.ConversationID == conversationID {
				src = append(src, e)
			}
		}
	}
	if limit > 0 && len(src) > limit {
		src = src[len(src)-limit:]
	}
	return append([]memory.Entry{}, src...), nil
}

// Search implements memory.Store.
func (s *Store) Search(_ context.Context, _ string, _ memory.SearchOpts) ([]memory.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	return append([]memory.Entry{}, s.SearchResult...), nil
}

// Count implements memory.Store.
func (s *Store) Count(_ context.Context, conversationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CountErr != nil {
		return 0, s.CountErr
	}
	n := 0
	for _, e := range s.Entries {
		if e.ConversationID == conversationID {
			n++
		}
	}
	return n, nil
}

// Snapshot returns a copy of Entries.
func (s *Store) Snapshot() []memory.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]memory.Entry{}, s.Entries...)
}
