package stt_test

import (
	"testing"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

func TestFileName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		mime string
		want string
	}{
		{"audio/wav", "audio.wav"},
		{"audio/webm;codecs=opus", "audio.webm"},
		{"audio/ogg", "audio.ogg"},
		{"audio/mpeg", "audio.mp3"},
		{"audio/mp4", "audio.m4a"},
		{"audio/flac", "audio.flac"},
		{"", "audio.wav"},
	}
	for _, tt := range tests {
		if got := stt.FileName(tt.mime); got != tt.want {
			t.Errorf("FileName(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}
