// Package blob is an in-memory registry of audio buffers addressed by opaque
// "blob:" URIs.
//
// Synthesized speech is registered with [Store.Create] and travels through
// the playback queue as a URI only. Whoever finishes with an item (the player
// after natural end or error, the queue on clear) calls [Store.Revoke] to
// free the bytes. Audio is never written anywhere else.
package blob

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// Scheme prefixes every URI issued by a [Store].
const Scheme = "blob:"

// ErrNotFound is returned by [Store.Open] for unknown or revoked URIs.
var ErrNotFound = errors.New("blob: not found")

type entry struct {
	data []byte
	mime string
}

// Store holds audio buffers until they are revoked. It is safe for concurrent
// use; providers create blobs on worker goroutines while the event loop
// revokes them.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[string]entry)}
}

// Create registers data under a fresh URI. The Store takes ownership of data.
func (s *Store) Create(data []byte, mime string) string {
	uri := Scheme + uuid.NewString()
	s.mu.Lock()
	s.entries[uri] = entry{data: data, mime: mime}
	s.mu.Unlock()
	return uri
}

// Open returns a reader over the blob and its MIME type.
func (s *Store) Open(uri string) (io.ReadSeeker, string, error) {
	s.mu.Lock()
	e, ok := s.entries[uri]
	s.mu.Unlock()
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return bytes.NewReader(e.data), e.mime, nil
}

// Revoke frees the blob. Revoking an unknown or already revoked URI is a
// no-op.
func (s *Store) Revoke(uri string) {
	s.mu.Lock()
	delete(s.entries, uri)
	s.mu.Unlock()
}

// Len returns the number of live blobs.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
