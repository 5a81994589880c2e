package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/zhouzirui/thoughtforge/backend/internal/storage/layout"
)

const (
	promptFile = "system_prompt"
	themeFile  = "theme"
)

// Theme values accepted by SetTheme.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

var (
	ErrInvalidTheme    = errors.New("theme must be light or dark")
	ErrUnknownProvider = errors.New("unknown provider")
)

// KeyStatus 描述某个提供方密钥的可用性，不包含密钥本身。
type KeyStatus struct {
	Provider string `json:"provider"`
	Present  bool   `json:"present"`
	Source   string `json:"source"`
}

// Settings 管理用户可编辑的进程级设置：API 密钥、系统提示词与主题。
type Settings struct {
	mu            sync.RWMutex
	layout        *layout.Layout
	overrides     *OverrideSource
	files         *FileSource
	resolver      *Resolver
	defaultPrompt string
}

// NewSettings wires the credential chain override → file → env.
func NewSettings(l *layout.Layout, cfg *Config, defaultPrompt string) *Settings {
	overrides := NewOverrideSource()
	files := NewFileSource(l)
	return &Settings{
		layout:        l,
		overrides:     overrides,
		files:         files,
		resolver:      NewResolver(overrides, files, EnvSource(cfg)),
		defaultPrompt: defaultPrompt,
	}
}

// Resolver exposes the credential chain to collaborators.
func (s *Settings) Resolver() *Resolver {
	return s.resolver
}

func knownProvider(provider string) bool {
	return provider == ProviderOpenAI || provider == ProviderArk
}

// KeyStatus reports whether a key is available and where it comes from.
func (s *Settings) KeyStatus(provider string) (KeyStatus, error) {
	if !knownProvider(provider) {
		return KeyStatus{}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	value, source := s.resolver.Resolve(provider)
	return KeyStatus{Provider: provider, Present: value != "", Source: source}, nil
}

// SetAPIKey stores a user key. With persist the key is written under
// _config and survives restarts; otherwise it only lives in memory. An empty
// key clears the corresponding layer.
func (s *Settings) SetAPIKey(provider, key string, persist bool) error {
	if !knownProvider(provider) {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	key = strings.TrimSpace(key)

	if !persist {
		s.overrides.Set(provider, key)
		return nil
	}

	if err := s.files.Store(provider, key); err != nil {
		log.Printf("[config] failed to persist %s key: %v", provider, err)
		return err
	}
	s.overrides.Set(provider, "")
	return nil
}

// SystemPrompt returns the stored prompt or the built-in brainstorming one.
func (s *Settings) SystemPrompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if value, ok := s.readLocked(promptFile); ok {
		return value
	}
	return s.defaultPrompt
}

// SetSystemPrompt persists a prompt; an empty prompt restores the default.
func (s *Settings) SetSystemPrompt(prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(promptFile, strings.TrimSpace(prompt))
}

// DefaultSystemPrompt returns the built-in prompt.
func (s *Settings) DefaultSystemPrompt() string {
	return s.defaultPrompt
}

// Theme returns light unless dark was chosen.
func (s *Settings) Theme() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if value, ok := s.readLocked(themeFile); ok && value == ThemeDark {
		return ThemeDark
	}
	return ThemeLight
}

func (s *Settings) SetTheme(theme string) error {
	theme = strings.ToLower(strings.TrimSpace(theme))
	if theme != ThemeLight && theme != ThemeDark {
		return ErrInvalidTheme
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(themeFile, theme)
}

func (s *Settings) readLocked(name string) (string, bool) {
	data, err := os.ReadFile(s.layout.ConfigPath(name))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("[config] failed to read %s: %v", name, err)
		}
		return "", false
	}
	value := strings.TrimSpace(string(data))
	return value, value != ""
}

func (s *Settings) writeLocked(name, value string) error {
	path := s.layout.ConfigPath(name)
	if value == "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("reset %s: %w", name, err)
		}
		return nil
	}
	if err := layout.EnsureDir(s.layout.ConfigDir()); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		log.Printf("[config] failed to write %s: %v", name, err)
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
