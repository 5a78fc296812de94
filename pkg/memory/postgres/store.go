package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/parley/pkg/memory"
)

var _ memory.Store = (*Store)(nil)

// Store is a [memory.Store] backed by a pgx connection pool. It is safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, pings the server and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Append implements [memory.Store]. All entries are written in one
// transaction.
func (s *Store) Append(ctx context.Context, entries ...memory.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	const q = `
		INSERT INTO conversation_entries (conversation_id, turn_id, role, text, at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))`

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, e := range entries {
			var at any
			if !e.At.IsZero() {
				at = e.At
			}
			batch.Queue(q, e.ConversationID, e.TurnID, e.Role, e.Text, at)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("postgres store: append: %w", err)
	}
	return nil
}

// Recent implements [memory.Store].
func (s *Store) Recent(ctx context.Context, conversationID string, limit int) ([]memory.Entry, error) {
	q := `
		SELECT conversation_id, turn_id, role, text, at FROM (
		    SELECT id, conversation_id, turn_id, role, text, at
		    FROM   conversation_entries
		    WHERE  conversation_id = $1
		    ORDER  BY at DESC, id DESC`
	args := []any{conversationID}
	if limit > 0 {
		q += "\n\t\t    LIMIT $2"
		args = append(args, limit)
	}
	q += `
		) recent
		ORDER BY at, id`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent: %w", err)
	}
	return collectEntries(rows)
}

// Search implements [memory.Store] using PostgreSQL full-text search. An
// empty query matches every entry.
func (s *Store) Search(ctx context.Context, query string, opts memory.SearchOpts) ([]memory.Entry, error) {
	var (
		args  []any
		conds []string
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if strings.TrimSpace(query) != "" {
		conds = append(conds, "to_tsvector('english', text) @@ plainto_tsquery('english', "+next(query)+")")
	}
	if opts.ConversationID != "" {
		conds = append(conds, "conversation_id = "+next(opts.ConversationID))
	}
	if opts.Role != "" {
		conds = append(conds, "role = "+next(opts.Role))
	}
	if !opts.After.IsZero() {
		conds = append(conds, "at > "+next(opts.After))
	}
	if !opts.Before.IsZero() {
		conds = append(conds, "at < "+next(opts.Before))
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = memory.DefaultSearchLimit
	}

	q := "SELECT conversation_id, turn_id, role, text, at\nFROM   conversation_entries"
	if len(conds) > 0 {
		q += "\nWHERE  " + strings.Join(conds, "\n  AND  ")
	}
	q += "\nORDER  BY at, id\nLIMIT  " + next(limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search: %w", err)
	}
	return collectEntries(rows)
}

// Count implements [memory.Store].
func (s *Store) Count(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM conversation_entries WHERE conversation_id = $1`,
		conversationID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres store: count: %w", err)
	}
	return n, nil
}

func collectEntries(rows pgx.Rows) ([]memory.Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Entry, error) {
		var e memory.Entry
		err := row.Scan(&e.ConversationID, &e.TurnID, &e.Role, &e.Text, &e.At)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if entries == nil {
		entries = []memory.Entry{}
	}
	return entries, nil
}
