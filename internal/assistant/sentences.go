package assistant

import "strings"

// Splitter cuts a streamed LLM reply into sentences as soon as each one is
// complete, so synthesis can start before the reply has finished.
//
// A sentence ends at '.', '!' or '?' (optionally followed by closing quotes
// or brackets) when the next character is whitespace. Trailing punctuation
// runs such as "?!" or "..." stay with their sentence. The zero value is
// ready to use.
type Splitter struct {
	buf strings.Builder
}

// Push appends text and returns every sentence it completed, trimmed.
func (s *Splitter) Push(text string) []string {
	if text == "" {
		return nil
	}
	s.buf.WriteString(text)

	var out []string
	pending := s.buf.String()
	for {
		idx := sentenceEnd(pending)
		if idx < 0 {
			break
		}
		if sentence := strings.TrimSpace(pending[:idx]); sentence != "" {
			out = append(out, sentence)
		}
		pending = strings.TrimLeft(pending[idx:], " \t\r\n")
	}
	s.buf.Reset()
	s.buf.WriteString(pending)
	return out
}

// Flush returns whatever is left, trimmed, and empties the splitter.
func (s *Splitter) Flush() string {
	rest := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return rest
}

// SplitSentences splits a complete text.
func SplitSentences(text string) []string {
	var s Splitter
	out := s.Push(text)
	if rest := s.Flush(); rest != "" {
		out = append(out, rest)
	}
	return out
}

// sentenceEnd returns the index just past the first sentence terminator
// that is followed by whitespace, or -1.
func sentenceEnd(s string) int {
	for i := 0; i < len(s); i++ {
		if !isTerminator(s[i]) {
			continue
		}
		j := i + 1
		for j < len(s) && (isTerminator(s[j]) || isCloser(s[j])) {
			j++
		}
		if j >= len(s) {
			return -1
		}
		if isSpace(s[j]) {
			return j
		}
		i = j - 1
	}
	return -1
}

func isTerminator(c byte) bool { return c == '.' || c == '!' || c == '?' }

func isCloser(c byte) bool { return c == '"' || c == '\'' || c == ')' || c == ']' }

func isSpace(c byte) bool { return c == ' ' || c == '\n' || c == '\r' || c == '\t' }
