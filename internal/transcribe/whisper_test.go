package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/starford/ansuz/internal/apperr"
)

func TestClient_Transcribe(t *testing.T) {
	var gotAuth, gotModel, gotFileName string
	var gotAudio []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatal(err)
		}
		gotModel = r.FormValue("model")

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("file part missing: %v", err)
		}
		defer file.Close()
		gotFileName = header.Filename
		gotAudio, _ = io.ReadAll(file)

		json.NewEncoder(w).Encode(map[string]string{"text": "buy milk tomorrow"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test", "")
	text, err := c.Transcribe(context.Background(), []byte("ogg bytes"), "audio/ogg")
	if err != nil {
		t.Fatal(err)
	}
	if text != "buy milk tomorrow" {
		t.Errorf("text = %q", text)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotModel != "whisper-1" {
		t.Errorf("model = %q, want the whisper-1 default", gotModel)
	}
	if gotFileName != "audio.ogg" {
		t.Errorf("filename = %q", gotFileName)
	}
	if string(gotAudio) != "ogg bytes" {
		t.Errorf("audio = %q", gotAudio)
	}
}

func TestClient_EmptyAudio(t *testing.T) {
	c := NewClient("http://localhost:1", "", "")
	_, err := c.Transcribe(context.Background(), nil, "audio/wav")
	if !errors.Is(err, apperr.ErrTranscriptionFailed) {
		t.Fatalf("got %v, want ErrTranscriptionFailed", err)
	}
}

func TestClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "whisper-large")
	_, err := c.Transcribe(context.Background(), []byte("x"), "audio/wav")
	if !errors.Is(err, apperr.ErrTranscriptionFailed) {
		t.Fatalf("got %v, want ErrTranscriptionFailed", err)
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	c := NewClient(srv.URL, "", "")
	_, err := c.Transcribe(context.Background(), []byte("x"), "audio/wav")
	if !errors.Is(err, apperr.ErrUnreachable) {
		t.Fatalf("got %v, want ErrUnreachable", err)
	}
}
