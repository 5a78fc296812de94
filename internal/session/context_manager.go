package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/provider/llm"
)

// charsPerToken approximates common LLM tokenizers for English text.
const charsPerToken = 4

const summaryPrefix = "[Previous conversation summary]: "

// ContextManager tracks the conversation sent to the LLM. When the estimated
// token count passes ThresholdRatio × MaxTokens, the oldest half of the
// messages is replaced by a summary.
//
// Every added message is also queued for persistence; see
// [ContextManager.TakePending].
type ContextManager struct {
	maxTokens      int
	thresholdRatio float64
	summariser     Summariser
	conversationID string
	now            func() time.Time

	mu            sync.Mutex
	currentTokens int
	messages      []llm.Message
	summaries     []string
	pending       []memory.Entry
	summarising   bool
}

// ContextManagerConfig configures a [ContextManager].
type ContextManagerConfig struct {
	// MaxTokens is the model's context window.
	MaxTokens int

	// ThresholdRatio is the fill level that triggers summarisation.
	// Default: 0.75.
	ThresholdRatio float64

	// Summariser compresses old messages. Nil disables summarisation and
	// drops the oldest messages instead.
	Summariser Summariser

	// ConversationID tags persisted entries.
	ConversationID string
}

// NewContextManager returns an empty [ContextManager].
func NewContextManager(cfg ContextManagerConfig) *ContextManager {
	ratio := cfg.ThresholdRatio
	if ratio <= 0 {
		ratio = 0.75
	}
	return &ContextManager{
		maxTokens:      cfg.MaxTokens,
		thresholdRatio: ratio,
		summariser:     cfg.Summariser,
		conversationID: cfg.ConversationID,
		now:            time.Now,
	}
}

// ConversationID returns the id persisted entries are tagged with.
func (cm *ContextManager) ConversationID() string { return cm.conversationID }

// AddMessages appends messages that belong to no particular turn.
func (cm *ContextManager) AddMessages(ctx context.Context, msgs ...llm.Message) error {
	return cm.AddTurn(ctx, "", msgs...)
}

// AddTurn appends the messages of one turn and summarises if the context has
// grown past the threshold.
func (cm *ContextManager) AddTurn(ctx context.Context, turnID string, msgs ...llm.Message) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	at := cm.now()
	for _, m := range msgs {
		cm.messages = append(cm.messages, m)
		cm.currentTokens += estimateTokens(m)
		cm.pending = append(cm.pending, memory.Entry{
			ConversationID: cm.conversationID,
			TurnID:         turnID,
			Role:           m.Role,
			Text:           m.Content,
			At:             at,
		})
	}

	if cm.summarising || cm.maxTokens <= 0 {
		return nil
	}
	threshold := int(float64(cm.maxTokens) * cm.thresholdRatio)
	if cm.currentTokens > threshold && len(cm.messages) > 1 {
		if err := cm.compactOldest(ctx); err != nil {
			return fmt.Errorf("context manager: summarise: %w", err)
		}
	}
	return nil
}

// Load seeds the history with previously persisted messages. They are not
// queued for persistence again.
func (cm *ContextManager) Load(msgs []llm.Message) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	loaded := make([]llm.Message, 0, len(msgs)+len(cm.messages))
	loaded = append(loaded, msgs...)
	loaded = append(loaded, cm.messages...)
	cm.messages = loaded
	for _, m := range msgs {
		cm.currentTokens += estimateTokens(m)
	}
}

// Messages returns the summaries as system messages followed by the
// retained conversation.
func (cm *ContextManager) Messages() []llm.Message {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	out := make([]llm.Message, 0, len(cm.summaries)+len(cm.messages))
	for _, s := range cm.summaries {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: summaryPrefix + s})
	}
	return append(out, cm.messages...)
}

// TakePending returns the entries added since the last call and clears the
// queue.
func (cm *ContextManager) TakePending() []memory.Entry {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	p := cm.pending
	cm.pending = nil
	return p
}

// TokenEstimate returns the current estimate including summaries.
func (cm *ContextManager) TokenEstimate() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.currentTokens
}

// Reset clears messages and summaries. Pending entries are kept so they can
// still be flushed.
func (cm *ContextManager) Reset() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.messages = nil
	cm.summaries = nil
	cm.currentTokens = 0
}

// compactOldest replaces the oldest half of the messages. Called with cm.mu
// held; the lock is released around the summariser call.
func (cm *ContextManager) compactOldest(ctx context.Context) error {
	half := max(len(cm.messages)/2, 1)

	if cm.summariser == nil {
		cm.dropFront(half)
		return nil
	}

	batch := make([]llm.Message, half)
	copy(batch, cm.messages[:half])

	cm.summarising = true
	cm.mu.Unlock()
	summary, err := cm.summariser.Summarise(ctx, batch)
	cm.mu.Lock()
	cm.summarising = false
	if err != nil {
		return err
	}

	// Reset may have run while unlocked.
	if len(cm.messages) < half {
		return nil
	}
	cm.dropFront(half)
	if summary != "" {
		cm.summaries = append(cm.summaries, summary)
		cm.currentTokens += len(summaryPrefix+summary) / charsPerToken
	}
	return nil
}

func (cm *ContextManager) dropFront(n int) {
	for _, m := range cm.messages[:n] {
		cm.currentTokens -= estimateTokens(m)
	}
	cm.messages = append([]llm.Message(nil), cm.messages[n:]...)
}

// estimateTokens uses the 4-characters-per-token heuristic.
func estimateTokens(m llm.Message) int {
	chars := len(m.Content) + len(m.Role) + len(m.Name)
	tokens := chars / charsPerToken
	if tokens == 0 && chars > 0 {
		tokens = 1
	}
	return tokens
}

// requeue puts entries that failed to persist back in front of the queue.
func (cm *ContextManager) requeue(entries []memory.Entry) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.pending = append(entries, cm.pending...)
}
