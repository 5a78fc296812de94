package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/memory/postgres"
)

// testDSN returns the test database DSN or skips when none is configured.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("PARLEY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PARLEY_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS conversation_entries`); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	pool.Close()

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestStore_AppendRecentCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).UTC().Truncate(time.Microsecond)

	err := store.Append(ctx,
		memory.Entry{ConversationID: "c1", TurnID: "t1", Role: "user", Text: "hello there", At: base},
		memory.Entry{ConversationID: "c1", TurnID: "t1", Role: "assistant", Text: "hi, how can I help?", At: base.Add(time.Second)},
		memory.Entry{ConversationID: "c1", TurnID: "t2", Role: "user", Text: "what is the weather", At: base.Add(2 * time.Second)},
		memory.Entry{ConversationID: "c2", Role: "user", Text: "unrelated"},
	)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	n, err := store.Count(ctx, "c1")
	if err != nil || n != 3 {
		t.Fatalf("Count(c1) = %d, %v; want 3", n, err)
	}

	recent, err := store.Recent(ctx, "c1", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Role != "assistant" || recent[1].TurnID != "t2" {
		t.Errorf("Recent(c1, 2) = %+v", recent)
	}
	if !recent[0].At.Equal(base.Add(time.Second)) {
		t.Errorf("At = %v, want %v", recent[0].At, base.Add(time.Second))
	}

	c2, err := store.Recent(ctx, "c2", 0)
	if err != nil || len(c2) != 1 || c2[0].At.IsZero() {
		t.Errorf("Recent(c2) = %+v, %v", c2, err)
	}
}

func TestStore_Search(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_ = store.Append(ctx,
		memory.Entry{ConversationID: "c1", Role: "user", Text: "What is the weather in Berlin?"},
		memory.Entry{ConversationID: "c1", Role: "assistant", Text: "It is raining in Berlin."},
		memory.Entry{ConversationID: "c2", Role: "user", Text: "Set a timer for ten minutes."},
	)

	got, err := store.Search(ctx, "berlin", memory.SearchOpts{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Search(berlin) = %d entries, want 2", len(got))
	}

	got, _ = store.Search(ctx, "berlin", memory.SearchOpts{Role: "assistant"})
	if len(got) != 1 {
		t.Errorf("Search(berlin, assistant) = %d entries, want 1", len(got))
	}

	got, _ = store.Search(ctx, "", memory.SearchOpts{ConversationID: "c2"})
	if len(got) != 1 || got[0].Text != "Set a timer for ten minutes." {
		t.Errorf("Search(\"\", c2) = %+v", got)
	}
}
