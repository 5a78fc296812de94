package deepgram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestBuildURL(t *testing.T) {
	t.Parallel()
	p, _ := New("key", WithModel("base"), WithLanguage("de"))
	raw, err := p.buildURL(stt.Request{Prompt: "Parley Eldrin"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	if q.Get("model") != "base" || q.Get("language") != "de" || q.Get("smart_format") != "true" {
		t.Errorf("query = %v", q)
	}
	if kt := q["keyterm"]; len(kt) != 2 || kt[0] != "Parley" || kt[1] != "Eldrin" {
		t.Errorf("keyterm = %v", kt)
	}

	raw, _ = p.buildURL(stt.Request{Language: "fr"})
	u, _ = url.Parse(raw)
	if u.Query().Get("language") != "fr" {
		t.Errorf("request language not used: %s", raw)
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()
	var gotAuth, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, `{
			"metadata": {"duration": 1.5},
			"results": {"channels": [{
				"detected_language": "en",
				"alternatives": [{"transcript": " Hello there. ", "confidence": 0.93}]
			}]}
		}`)
	}))
	defer srv.Close()

	p, _ := New("secret", WithEndpoint(srv.URL))
	tr, err := p.Transcribe(context.Background(), stt.Request{Audio: []byte("wav"), MIME: "audio/wav"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "Hello there." || tr.Confidence != 0.93 || tr.Language != "en" || tr.Duration != 1500*time.Millisecond {
		t.Errorf("transcript = %+v", tr)
	}
	if gotAuth != "Token secret" || gotType != "audio/wav" || string(gotBody) != "wav" {
		t.Errorf("auth = %q, type = %q, body = %q", gotAuth, gotType, gotBody)
	}
}

func TestTranscribe_Errors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := New("secret", WithEndpoint(srv.URL))
	if _, err := p.Transcribe(context.Background(), stt.Request{Audio: []byte{1}}); err == nil {
		t.Error("expected error for HTTP 401")
	}
	if _, err := p.Transcribe(context.Background(), stt.Request{}); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Errorf("err = %v, want ErrEmptyAudio", err)
	}
}

func TestToTranscript_NoChannels(t *testing.T) {
	t.Parallel()
	tr := toTranscript(listenResponse{}, "de")
	if tr.Text != "" || tr.Language != "de" {
		t.Errorf("transcript = %+v", tr)
	}
}
