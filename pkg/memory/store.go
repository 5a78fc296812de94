// Package memory persists the assistant's conversation history so that a
// restarted client can pick up where it left off.
//
// Only text is stored. Recorded audio and synthesized speech never leave
// process memory.
//
// Every [Store] implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"
)

// Entry is one utterance in a conversation.
type Entry struct {
	// ConversationID groups entries belonging to one conversation.
	ConversationID string

	// TurnID identifies the user turn the entry belongs to. A user entry and
	// the assistant reply to it share a TurnID.
	TurnID string

	// Role is the LLM role of the speaker ("user", "assistant" or "system").
	Role string

	// Text is the utterance.
	Text string

	// At is when the entry was recorded.
	At time.Time
}

// SearchOpts narrows a [Store.Search]. Zero fields do not filter.
type SearchOpts struct {
	ConversationID string
	Role           string
	After          time.Time
	Before         time.Time

	// Limit caps the result count. 0 lets the store pick a default.
	Limit int
}

// DefaultSearchLimit is used when [SearchOpts.Limit] is zero.
const DefaultSearchLimit = 50

// Store is a conversation history backend.
type Store interface {
	// Append records entries in order.
	Append(ctx context.Context, entries ...Entry) error

	// Recent returns up to limit of the newest entries of a conversation,
	// oldest first. limit <= 0 returns all of them.
	Recent(ctx context.Context, conversationID string, limit int) ([]Entry, error)

	// Search returns entries whose text matches every word of query,
	// oldest first.
	Search(ctx context.Context, query string, opts SearchOpts) ([]Entry, error)

	// Count returns the number of entries stored for a conversation.
	Count(ctx context.Context, conversationID string) (int, error)
}
