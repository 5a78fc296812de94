// Package session keeps the assistant's conversation history.
//
// [ContextManager] holds the messages sent to the LLM and compresses the
// oldest ones with a [Summariser] when the context window fills up.
// [Consolidator] flushes new messages to a [memory.Store] and restores them
// on startup. [MemoryGuard] keeps a failing store from breaking a turn.
//
// All exported types are safe for concurrent use.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

const summarisationPrompt = `Summarise the following conversation between a user and a voice assistant.
Keep facts the user shared, open requests, decisions and anything the assistant promised to do.
Be brief. The summary replaces the original messages in the assistant's context.`

// Summariser condenses a run of messages into a short text.
type Summariser interface {
	Summarise(ctx context.Context, messages []llm.Message) (string, error)
}

// LLMSummariser asks an LLM for the summary.
type LLMSummariser struct {
	llm llm.Provider
}

// NewLLMSummariser returns a [Summariser] backed by provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider}
}

// Summarise formats messages as a transcript and requests a summary of it.
func (s *LLMSummariser) Summarise(ctx context.Context, messages []llm.Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, m := range messages {
		speaker := m.Role
		if m.Name != "" {
			speaker = m.Name
		}
		fmt.Fprintf(&sb, "[%s]: %s\n", speaker, m.Content)
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarisationPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: sb.String()}},
		Temperature:  0.3,
	})
	if err != nil {
		return "", fmt.Errorf("summarise: %w", err)
	}
	if resp == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Content), nil
}
