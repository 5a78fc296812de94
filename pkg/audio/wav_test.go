package audio_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/MrWong99/parley/pkg/audio"
)

func TestEncodeDecodeWAV(t *testing.T) {
	t.Parallel()
	pcm := samplesToBytes([]int16{1, -1, 1000, -1000})
	f := audio.Format{SampleRate: 16000, Channels: 1}

	wav := audio.EncodeWAV(pcm, f)
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad header: %q", wav[:12])
	}

	gotPCM, gotFormat, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if gotFormat != f {
		t.Errorf("format = %+v, want %+v", gotFormat, f)
	}
	if !bytes.Equal(gotPCM, pcm) {
		t.Errorf("pcm = %v, want %v", gotPCM, pcm)
	}
}

func TestEncodeWAV_Empty(t *testing.T) {
	t.Parallel()
	wav := audio.EncodeWAV(nil, audio.Format{SampleRate: 16000, Channels: 1})
	pcm, _, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if len(pcm) != 0 {
		t.Errorf("pcm len = %d, want 0", len(pcm))
	}
}

func TestDecodeWAV_Rejects(t *testing.T) {
	t.Parallel()
	for _, data := range [][]byte{nil, []byte("ID3\x03 not a wav file"), []byte("RIFF\x00\x00\x00\x00WAVE")} {
		if _, _, err := audio.DecodeWAV(data); !errors.Is(err, audio.ErrNotWAV) {
			t.Errorf("DecodeWAV(%q) error = %v, want ErrNotWAV", data, err)
		}
	}
}
