package speech

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/zhouzirui/thoughtforge/backend/internal/config"
)

type staticKeys map[string]string

func (k staticKeys) Key(provider string) string { return k[provider] }

func newTestService(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewService(config.SpeechConfig{
		BaseURL:  srv.URL + "/v1",
		ASRModel: "whisper-1",
		TTSModel: "tts-1",
		TTSVoice: "alloy",
		TTSSpeed: 1,
		Timeout:  5 * time.Second,
	}, staticKeys{config.ProviderOpenAI: "sk-test"})
}

func TestTranscribeSendsRecording(t *testing.T) {
	var gotModel, gotFile, gotAuth string
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm err: %v", err)
		}
		gotModel = r.FormValue("model")
		if _, header, err := r.FormFile("file"); err == nil {
			gotFile = header.Filename
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "  I want to build a treehouse  "})
	})

	path := filepath.Join(t.TempDir(), "p-0-user.mp4")
	if err := os.WriteFile(path, []byte("fake aac"), 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}

	text, err := svc.Transcribe(context.Background(), path)
	if err != nil {
		t.Fatalf("Transcribe err: %v", err)
	}
	if text != "I want to build a treehouse" {
		t.Fatalf("unexpected text: %q", text)
	}
	if gotModel != "whisper-1" || gotFile != "audio.mp4" || gotAuth != "Bearer sk-test" {
		t.Fatalf("unexpected request: model=%s file=%s auth=%s", gotModel, gotFile, gotAuth)
	}
}

func TestTranscribeRejectsEmptyClip(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	path := filepath.Join(t.TempDir(), "empty.mp4")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}
	if _, err := svc.Transcribe(context.Background(), path); !errors.Is(err, ErrEmptyAudio) {
		t.Fatalf("expected ErrEmptyAudio, got %v", err)
	}
}

func TestTranscribeReportsProviderFailure(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
	})
	if _, err := svc.TranscribeBuffer(context.Background(), "s", []byte("x"), "mp4", "en"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSynthesizeReturnsAudio(t *testing.T) {
	var req openai.CreateSpeechRequest
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode err: %v", err)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3fake"))
	})

	audio, err := svc.Synthesize(context.Background(), "Hello there")
	if err != nil {
		t.Fatalf("Synthesize err: %v", err)
	}
	if string(audio) != "ID3fake" {
		t.Fatalf("unexpected audio: %q", audio)
	}
	if req.Input != "Hello there" || req.Voice != openai.VoiceAlloy || req.ResponseFormat != openai.SpeechResponseFormatMp3 {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestSynthesizeRejectsEmptyText(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	if _, err := svc.Synthesize(context.Background(), "   "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}

func TestMissingKey(t *testing.T) {
	svc := NewService(config.SpeechConfig{}, staticKeys{})
	if _, err := svc.Synthesize(context.Background(), "hi"); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestNormalizeVoiceAndLanguage(t *testing.T) {
	if got := NormalizeVoice("Nova", openai.VoiceAlloy); got != openai.VoiceNova {
		t.Fatalf("unexpected voice: %s", got)
	}
	if got := NormalizeVoice("male", openai.VoiceAlloy); got != openai.VoiceOnyx {
		t.Fatalf("unexpected alias voice: %s", got)
	}
	if got := NormalizeVoice("zh_female_x", openai.VoiceEcho); got != openai.VoiceEcho {
		t.Fatalf("expected fallback, got %s", got)
	}
	if got := normalizeLanguage("fr-FR"); got != "fr" {
		t.Fatalf("unexpected language: %s", got)
	}
	if got := normalizeLanguage(""); got != "" {
		t.Fatalf("expected empty language, got %q", strings.TrimSpace(got))
	}
}
