// Package postgres stores conversation history in PostgreSQL.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Append(ctx, memory.Entry{ConversationID: id, Role: "user", Text: "hi"})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlConversationEntries = `
CREATE TABLE IF NOT EXISTS conversation_entries (
    id              BIGSERIAL    PRIMARY KEY,
    conversation_id TEXT         NOT NULL,
    turn_id         TEXT         NOT NULL DEFAULT '',
    role            TEXT         NOT NULL,
    text            TEXT         NOT NULL,
    at              TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversation_entries_conv_at
    ON conversation_entries (conversation_id, at);

CREATE INDEX IF NOT EXISTS idx_conversation_entries_fts
    ON conversation_entries USING GIN (to_tsvector('english', text));
`

// Migrate creates the history table and its indexes if they do not exist.
// It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlConversationEntries); err != nil {
		return fmt.Errorf("migrate: conversation_entries: %w", err)
	}
	return nil
}
