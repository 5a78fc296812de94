package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

type mockSummariser struct {
	mu     sync.Mutex
	result string
	err    error
	calls  int
	msgs   [][]llm.Message
}

func (m *mockSummariser) Summarise(_ context.Context, messages []llm.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.msgs = append(m.msgs, messages)
	return m.result, m.err
}

func msg(role, content string) llm.Message {
	return llm.Message{Role: role, Content: content}
}

func TestEstimateTokens(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		msg  llm.Message
		want int
	}{
		{name: "empty", msg: llm.Message{}, want: 0},
		{name: "rounds up to one", msg: msg("u", "a"), want: 1},
		{name: "short", msg: msg("user", "Hi"), want: 1},
		{name: "long", msg: msg("assistant", strings.Repeat("a", 400)), want: 102},
		{name: "name counts", msg: llm.Message{Role: "user", Name: "Sam", Content: "hello"}, want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := estimateTokens(tt.msg); got != tt.want {
				t.Errorf("estimateTokens() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestContextManager_BelowThreshold(t *testing.T) {
	t.Parallel()
	s := &mockSummariser{result: "sum"}
	cm := NewContextManager(ContextManagerConfig{MaxTokens: 1000, Summariser: s})

	if err := cm.AddMessages(context.Background(), msg(llm.RoleUser, "hello"), msg(llm.RoleAssistant, "hi")); err != nil {
		t.Fatalf("AddMessages() error = %v", err)
	}
	if s.calls != 0 {
		t.Errorf("summariser calls = %d, want 0", s.calls)
	}
	if got := cm.Messages(); len(got) != 2 {
		t.Errorf("Messages() len = %d, want 2", len(got))
	}
}

func TestContextManager_SummarisesOldestHalf(t *testing.T) {
	t.Parallel()
	s := &mockSummariser{result: "they talked"}
	cm := NewContextManager(ContextManagerConfig{MaxTokens: 100, ThresholdRatio: 0.5, Summariser: s})
	ctx := context.Background()

	body := strings.Repeat("x", 60) // ~16 tokens each with role
	for _, c := range []string{"a", "b", "c", "d"} {
		if err := cm.AddMessages(ctx, msg(llm.RoleUser, c+body)); err != nil {
			t.Fatalf("AddMessages() error = %v", err)
		}
	}

	if s.calls != 1 {
		t.Fatalf("summariser calls = %d, want 1", s.calls)
	}
	if len(s.msgs[0]) != 2 || !strings.HasPrefix(s.msgs[0][0].Content, "a") {
		t.Errorf("summarised %+v, want the two oldest", s.msgs[0])
	}

	got := cm.Messages()
	if len(got) != 3 {
		t.Fatalf("Messages() len = %d, want 3", len(got))
	}
	if got[0].Role != llm.RoleSystem || got[0].Content != summaryPrefix+"they talked" {
		t.Errorf("Messages()[0] = %+v", got[0])
	}
	if !strings.HasPrefix(got[1].Content, "c") {
		t.Errorf("Messages()[1] = %+v, want message c", got[1])
	}
}

func TestContextManager_NoSummariserDropsOldest(t *testing.T) {
	t.Parallel()
	cm := NewContextManager(ContextManagerConfig{MaxTokens: 10, ThresholdRatio: 1})
	ctx := context.Background()
	_ = cm.AddMessages(ctx, msg(llm.RoleUser, strings.Repeat("a", 20)))
	_ = cm.AddMessages(ctx, msg(llm.RoleAssistant, strings.Repeat("b", 20)))

	got := cm.Messages()
	if len(got) != 1 || got[0].Role != llm.RoleAssistant {
		t.Errorf("Messages() = %+v, want only the newest", got)
	}
	if cm.TokenEstimate() != estimateTokens(got[0]) {
		t.Errorf("TokenEstimate() = %d, want %d", cm.TokenEstimate(), estimateTokens(got[0]))
	}
}

func TestContextManager_SummariserError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	cm := NewContextManager(ContextManagerConfig{MaxTokens: 4, Summariser: &mockSummariser{err: boom}})
	err := cm.AddMessages(context.Background(), msg(llm.RoleUser, "hello there"), msg(llm.RoleAssistant, "general"))
	if !errors.Is(err, boom) {
		t.Errorf("AddMessages() error = %v, want boom", err)
	}
	if len(cm.Messages()) != 2 {
		t.Errorf("messages were dropped after a failed summary")
	}
}

func TestContextManager_PendingAndLoad(t *testing.T) {
	t.Parallel()
	cm := NewContextManager(ContextManagerConfig{MaxTokens: 1000, ConversationID: "conv"})
	ctx := context.Background()

	cm.Load([]llm.Message{msg(llm.RoleUser, "old question"), msg(llm.RoleAssistant, "old answer")})
	_ = cm.AddTurn(ctx, "t1", msg(llm.RoleUser, "new question"), msg(llm.RoleAssistant, "new answer"))

	if got := cm.Messages(); len(got) != 4 || got[0].Content != "old question" {
		t.Errorf("Messages() = %+v", got)
	}

	pending := cm.TakePending()
	if len(pending) != 2 {
		t.Fatalf("TakePending() len = %d, want 2 (loaded messages are not re-queued)", len(pending))
	}
	for _, e := range pending {
		if e.ConversationID != "conv" || e.TurnID != "t1" || e.At.IsZero() {
			t.Errorf("pending entry = %+v", e)
		}
	}
	if len(cm.TakePending()) != 0 {
		t.Error("TakePending() did not clear the queue")
	}
}

func TestContextManager_Reset(t *testing.T) {
	t.Parallel()
	cm := NewContextManager(ContextManagerConfig{MaxTokens: 1000})
	_ = cm.AddMessages(context.Background(), msg(llm.RoleUser, "hi"))
	cm.Reset()
	if len(cm.Messages()) != 0 || cm.TokenEstimate() != 0 {
		t.Errorf("Reset() left %d messages, %d tokens", len(cm.Messages()), cm.TokenEstimate())
	}
	if len(cm.TakePending()) != 1 {
		t.Error("Reset() discarded unflushed entries")
	}
}
