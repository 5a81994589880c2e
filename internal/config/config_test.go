package config

import (
	"os"
	"testing"
	"time"

	"github.com/zhouzirui/thoughtforge/backend/internal/storage/layout"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "STORAGE_ROOT", "PLAYBACK_POLL_INTERVAL", "SPEECH_TTS_SPEED", "ONENOTE_NOTEBOOK", "REDIS_ADDR"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Server.Addr)
	}
	if cfg.Storage.Root != "./data" {
		t.Fatalf("unexpected storage root: %s", cfg.Storage.Root)
	}
	if cfg.Playback.PollInterval != 250*time.Millisecond {
		t.Fatalf("unexpected poll interval: %v", cfg.Playback.PollInterval)
	}
	if cfg.Export.Notebook != "ThoughtForgeAI" || cfg.Export.Section != "Brainstorms" {
		t.Fatalf("unexpected export defaults: %+v", cfg.Export)
	}
	if cfg.Events.RedisEnabled() {
		t.Fatal("redis should be disabled without REDIS_ADDR")
	}
	if cfg.Speech.TTSVoice != "alloy" || cfg.Speech.ASRModel != "whisper-1" {
		t.Fatalf("unexpected speech defaults: %+v", cfg.Speech)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PLAYBACK_POLL_INTERVAL": "soon",
		"ARK_TEMPERATURE":        "warm",
		"REDIS_DB":               "first",
		"SPEECH_TTS_SPEED":       "9",
		"PORT":                   "80 80",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%q to be rejected", key, value)
			}
		})
	}
}

func TestResolverOrder(t *testing.T) {
	l := layout.New(t.TempDir())
	cfg := &Config{}
	cfg.Speech.APIKey = "env-key"

	settings := NewSettings(l, cfg, "default prompt")
	resolver := settings.Resolver()

	if value, source := resolver.Resolve(ProviderOpenAI); value != "env-key" || source != SourceEnv {
		t.Fatalf("expected env key, got %q from %s", value, source)
	}

	if err := settings.SetAPIKey(ProviderOpenAI, "file-key", true); err != nil {
		t.Fatalf("SetAPIKey err: %v", err)
	}
	if value, source := resolver.Resolve(ProviderOpenAI); value != "file-key" || source != SourceFile {
		t.Fatalf("expected persisted key, got %q from %s", value, source)
	}
	if info, err := os.Stat(l.KeyPath(ProviderOpenAI)); err != nil || info.Mode().Perm() != 0o600 {
		t.Fatalf("expected key file with 0600, got %v, %v", info, err)
	}

	if err := settings.SetAPIKey(ProviderOpenAI, "session-key", false); err != nil {
		t.Fatalf("SetAPIKey err: %v", err)
	}
	if value, source := resolver.Resolve(ProviderOpenAI); value != "session-key" || source != SourceOverride {
		t.Fatalf("expected override key, got %q from %s", value, source)
	}

	if err := settings.SetAPIKey(ProviderOpenAI, "", false); err != nil {
		t.Fatalf("SetAPIKey err: %v", err)
	}
	if err := settings.SetAPIKey(ProviderOpenAI, "", true); err != nil {
		t.Fatalf("SetAPIKey err: %v", err)
	}
	if value, source := resolver.Resolve(ProviderOpenAI); value != "env-key" || source != SourceEnv {
		t.Fatalf("expected fallback to env key, got %q from %s", value, source)
	}

	status, err := settings.KeyStatus(ProviderArk)
	if err != nil {
		t.Fatalf("KeyStatus err: %v", err)
	}
	if status.Present || status.Source != SourceNone {
		t.Fatalf("expected absent ark key, got %+v", status)
	}

	if _, err := settings.KeyStatus("anthropic"); err == nil {
		t.Fatal("expected unknown provider error")
	}
}

func TestSystemPromptAndTheme(t *testing.T) {
	settings := NewSettings(layout.New(t.TempDir()), &Config{}, "default prompt")

	if got := settings.SystemPrompt(); got != "default prompt" {
		t.Fatalf("expected default prompt, got %q", got)
	}
	if err := settings.SetSystemPrompt("  be brief  "); err != nil {
		t.Fatalf("SetSystemPrompt err: %v", err)
	}
	if got := settings.SystemPrompt(); got != "be brief" {
		t.Fatalf("unexpected prompt: %q", got)
	}
	if err := settings.SetSystemPrompt(""); err != nil {
		t.Fatalf("SetSystemPrompt err: %v", err)
	}
	if got := settings.SystemPrompt(); got != "default prompt" {
		t.Fatalf("expected default prompt after reset, got %q", got)
	}

	if settings.Theme() != ThemeLight {
		t.Fatalf("expected light theme by default")
	}
	if err := settings.SetTheme("Dark"); err != nil {
		t.Fatalf("SetTheme err: %v", err)
	}
	if settings.Theme() != ThemeDark {
		t.Fatalf("expected dark theme")
	}
	if err := settings.SetTheme("sepia"); err != ErrInvalidTheme {
		t.Fatalf("expected ErrInvalidTheme, got %v", err)
	}
}
