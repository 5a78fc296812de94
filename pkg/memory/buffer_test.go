package memory

import (
	"context"
	"errors"
	"testing"
	"time"
)

func entry(conv, role, text string, sec int) Entry {
	return Entry{ConversationID: conv, Role: role, Text: text, At: time.Unix(int64(sec), 0)}
}

func TestBuffer_AppendRecent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := NewBuffer(3)

	_ = b.Append(ctx,
		entry("c1", "user", "one", 1),
		entry("c1", "assistant", "two", 2),
		entry("c2", "user", "other", 3),
		entry("c1", "user", "three", 4),
		entry("c1", "assistant", "four", 5),
	)

	n, _ := b.Count(ctx, "c1")
	if n != 3 {
		t.Fatalf("Count(c1) = %d, want 3 after trimming", n)
	}

	got, err := b.Recent(ctx, "c1", 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 || got[0].Text != "three" || got[1].Text != "four" {
		t.Errorf("Recent(c1, 2) = %+v", got)
	}

	all, _ := b.Recent(ctx, "c1", 0)
	if len(all) != 3 || all[0].Text != "two" {
		t.Errorf("Recent(c1, 0) = %+v", all)
	}

	none, _ := b.Recent(ctx, "missing", 5)
	if none == nil || len(none) != 0 {
		t.Errorf("Recent(missing) = %#v, want empty non-nil", none)
	}
}

func TestBuffer_Search(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := NewBuffer(0)
	_ = b.Append(ctx,
		entry("c1", "user", "What is the Weather like?", 1),
		entry("c1", "assistant", "The weather is sunny.", 2),
		entry("c2", "user", "weather in Berlin", 3),
		entry("c2", "user", "set a timer", 4),
	)

	tests := []struct {
		name  string
		query string
		opts  SearchOpts
		want  int
	}{
		{name: "all conversations", query: "weather", want: 3},
		{name: "every word must match", query: "weather berlin", want: 1},
		{name: "conversation filter", query: "weather", opts: SearchOpts{ConversationID: "c1"}, want: 2},
		{name: "role filter", query: "weather", opts: SearchOpts{Role: "assistant"}, want: 1},
		{name: "after filter", query: "weather", opts: SearchOpts{After: time.Unix(1, 0)}, want: 2},
		{name: "before filter", query: "weather", opts: SearchOpts{Before: time.Unix(3, 0)}, want: 2},
		{name: "limit", query: "", opts: SearchOpts{Limit: 2}, want: 2},
		{name: "no match", query: "pizza", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.Search(ctx, tt.query, tt.opts)
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("Search(%q) returned %d entries, want %d", tt.query, len(got), tt.want)
			}
			for i := 1; i < len(got); i++ {
				if got[i].At.Before(got[i-1].At) {
					t.Errorf("results not oldest first: %+v", got)
				}
			}
		})
	}
}

func TestBuffer_CancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := NewBuffer(0)
	if err := b.Append(ctx, entry("c", "user", "x", 1)); !errors.Is(err, context.Canceled) {
		t.Errorf("Append() error = %v, want context.Canceled", err)
	}
	if _, err := b.Recent(ctx, "c", 1); !errors.Is(err, context.Canceled) {
		t.Errorf("Recent() error = %v, want context.Canceled", err)
	}
}
