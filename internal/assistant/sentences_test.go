package assistant

import (
	"slices"
	"testing"
)

func TestSplitSentences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"single without terminator", "hello there", []string{"hello there"}},
		{"two sentences", "Hi. How are you?", []string{"Hi.", "How are you?"}},
		{"punctuation runs", "Really?! Yes... Fine.", []string{"Really?!", "Yes...", "Fine."}},
		{"decimal stays", "It costs 3.50 today. Ok.", []string{"It costs 3.50 today.", "Ok."}},
		{"closing quote", `She said "stop." Then left.`, []string{`She said "stop."`, "Then left."}},
		{"newlines", "One.\n\nTwo!", []string{"One.", "Two!"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := SplitSentences(tc.in); !slices.Equal(got, tc.want) {
				t.Errorf("SplitSentences(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSplitter_Streaming(t *testing.T) {
	t.Parallel()

	var s Splitter
	var got []string
	for _, chunk := range []string{"Hel", "lo the", "re. How", " are", " you? I'm", " fine"} {
		got = append(got, s.Push(chunk)...)
	}
	want := []string{"Hello there.", "How are you?"}
	if !slices.Equal(got, want) {
		t.Fatalf("streamed sentences = %q, want %q", got, want)
	}
	if rest := s.Flush(); rest != "I'm fine" {
		t.Errorf("Flush = %q, want %q", rest, "I'm fine")
	}
	if rest := s.Flush(); rest != "" {
		t.Errorf("second Flush = %q, want empty", rest)
	}
}

func TestSplitter_TerminatorAtChunkEdgeWaits(t *testing.T) {
	t.Parallel()

	var s Splitter
	if got := s.Push("Wait."); len(got) != 0 {
		t.Fatalf("Push before whitespace = %q, want none", got)
	}
	if got := s.Push("5 seconds. Go"); !slices.Equal(got, []string{"Wait.5 seconds."}) {
		t.Errorf("Push = %q", got)
	}
}
