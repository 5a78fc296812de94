package whisper_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/stt/whisper"
)

type captured struct {
	path     string
	fileName string
	file     []byte
	fields   map[string]string
}

// newServer returns a whisper.cpp stand-in that records the multipart upload
// and replies with body.
func newServer(t *testing.T, status int, body any, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		got.fields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			got.fields[k] = v[0]
		}
		f, hdr, err := r.FormFile("file")
		if err == nil {
			got.fileName = hdr.Filename
			got.file, _ = io.ReadAll(f)
			f.Close()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestTranscribe_SendsMultipartUpload(t *testing.T) {
	t.Parallel()
	var got captured
	srv := newServer(t, http.StatusOK, map[string]string{"text": "  hello world \n"}, &got)
	p, err := whisper.New(srv.URL+"/", whisper.WithModel("base.en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tr, err := p.Transcribe(context.Background(), stt.Request{
		Audio:  []byte("RIFFdata"),
		MIME:   "audio/wav",
		Prompt: "Parley",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "hello world" || tr.Language != "en" {
		t.Errorf("transcript = %+v", tr)
	}
	if got.path != "/inference" {
		t.Errorf("path = %q, want /inference", got.path)
	}
	if got.fileName != "audio.wav" || string(got.file) != "RIFFdata" {
		t.Errorf("file = %q %q", got.fileName, got.file)
	}
	want := map[string]string{"language": "en", "model": "base.en", "prompt": "Parley", "response_format": "json"}
	for k, v := range want {
		if got.fields[k] != v {
			t.Errorf("field %s = %q, want %q", k, got.fields[k], v)
		}
	}
}

func TestTranscribe_RequestLanguageWins(t *testing.T) {
	t.Parallel()
	var got captured
	srv := newServer(t, http.StatusOK, map[string]string{"text": "hallo"}, &got)
	p, _ := whisper.New(srv.URL)

	tr, err := p.Transcribe(context.Background(), stt.Request{Audio: []byte{1}, MIME: "audio/webm", Language: "de"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.fields["language"] != "de" || tr.Language != "de" {
		t.Errorf("language = %q / %q, want de", got.fields["language"], tr.Language)
	}
	if got.fileName != "audio.webm" {
		t.Errorf("fileName = %q, want audio.webm", got.fileName)
	}
	if _, ok := got.fields["model"]; ok {
		t.Error("empty model should not be sent")
	}
}

func TestTranscribe_Errors(t *testing.T) {
	t.Parallel()
	var got captured

	t.Run("http status", func(t *testing.T) {
		srv := newServer(t, http.StatusInternalServerError, map[string]string{}, &got)
		p, _ := whisper.New(srv.URL)
		if _, err := p.Transcribe(context.Background(), stt.Request{Audio: []byte{1}}); err == nil {
			t.Error("expected error for HTTP 500")
		}
	})

	t.Run("server error field", func(t *testing.T) {
		var got captured
		srv := newServer(t, http.StatusOK, map[string]string{"error": "failed to read WAV"}, &got)
		p, _ := whisper.New(srv.URL)
		if _, err := p.Transcribe(context.Background(), stt.Request{Audio: []byte{1}}); err == nil {
			t.Error("expected error for error response")
		}
	})

	t.Run("empty audio", func(t *testing.T) {
		p, _ := whisper.New("http://127.0.0.1:1")
		if _, err := p.Transcribe(context.Background(), stt.Request{}); !errors.Is(err, stt.ErrEmptyAudio) {
			t.Errorf("err = %v, want ErrEmptyAudio", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		var got captured
		srv := newServer(t, http.StatusOK, map[string]string{"text": "x"}, &got)
		p, _ := whisper.New(srv.URL)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := p.Transcribe(ctx, stt.Request{Audio: []byte{1}}); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}
