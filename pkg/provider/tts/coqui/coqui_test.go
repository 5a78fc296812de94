package coqui_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/tts/coqui"
)

// testWAV is 4 samples of 22.05kHz mono audio.
var testWAV = audio.EncodeWAV([]byte{1, 0, 2, 0, 3, 0, 4, 0}, audio.Format{SampleRate: 22050, Channels: 1})

func TestNew_EmptyServerURL(t *testing.T) {
	t.Parallel()
	if _, err := coqui.New(""); err == nil {
		t.Error("expected error for empty server URL")
	}
}

func TestSynthesize_Standard(t *testing.T) {
	t.Parallel()
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/tts" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		gotQuery = map[string]string{"text": q.Get("text"), "speaker_id": q.Get("speaker_id"), "language_id": q.Get("language_id")}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(testWAV)
	}))
	defer srv.Close()

	p, _ := coqui.New(srv.URL, coqui.WithLanguage("de"))
	sp, err := p.Synthesize(context.Background(), " Guten Tag. ", "p225")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if sp.Source != "coqui" || sp.MIME != "audio/wav" || string(sp.Data) != string(testWAV) {
		t.Errorf("speech = %s %s %d bytes", sp.Source, sp.MIME, len(sp.Data))
	}
	want := map[string]string{"text": "Guten Tag.", "speaker_id": "p225", "language_id": "de"}
	for k, v := range want {
		if gotQuery[k] != v {
			t.Errorf("%s = %q, want %q", k, gotQuery[k], v)
		}
	}
}

func TestSynthesize_XTTS(t *testing.T) {
	t.Parallel()
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tts_to_audio/" {
			http.NotFound(w, r)
			return
		}
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		_, _ = w.Write(testWAV)
	}))
	defer srv.Close()

	p, _ := coqui.New(srv.URL, coqui.WithAPIMode(coqui.APIModeXTTS), coqui.WithOutputSampleRate(44100))
	sp, err := p.Synthesize(context.Background(), "Hello.", "Claribel Dervla")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if body["text"] != "Hello." || body["speaker_wav"] != "Claribel Dervla" || body["language"] != "en" {
		t.Errorf("body = %v", body)
	}
	pcm, f, err := audio.DecodeWAV(sp.Data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if f.SampleRate != 44100 || len(pcm) != 16 {
		t.Errorf("resampled to %v with %d bytes, want 44100 Hz and 16 bytes", f, len(pcm))
	}

	if _, err := p.Synthesize(context.Background(), "Hello.", ""); err == nil {
		t.Error("XTTS without voice should fail")
	}
}

func TestSynthesize_Errors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("text") == "garbage" {
			_, _ = w.Write([]byte("not a wav"))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := coqui.New(srv.URL)
	if _, err := p.Synthesize(context.Background(), "Hi.", ""); err == nil {
		t.Error("expected error for HTTP 500")
	}
	if _, err := p.Synthesize(context.Background(), "garbage", ""); err == nil {
		t.Error("expected error for non-WAV body")
	}
	if _, err := p.Synthesize(context.Background(), "  ", ""); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("err = %v, want ErrEmptyText", err)
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/studio_speakers":
			_, _ = io.WriteString(w, `{"Zed": {}, "Ana": {}}`)
		case "/details":
			_, _ = io.WriteString(w, `{"model_name": "vits", "speakers": ["p2", "p1"]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	xtts, _ := coqui.New(srv.URL, coqui.WithAPIMode(coqui.APIModeXTTS))
	voices, err := xtts.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices xtts: %v", err)
	}
	if len(voices) != 2 || voices[0].ID != "Ana" || voices[0].Metadata["type"] != "studio" {
		t.Errorf("xtts voices = %+v", voices)
	}

	std, _ := coqui.New(srv.URL)
	voices, err = std.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices standard: %v", err)
	}
	if len(voices) != 2 || voices[0].ID != "p1" || voices[1].Metadata["model_name"] != "vits" {
		t.Errorf("standard voices = %+v", voices)
	}
}
