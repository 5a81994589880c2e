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

// Provider names used for key lookup and persisted key files.
const (
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
)

// Source names reported by Resolve.
const (
	SourceOverride = "override"
	SourceFile     = "file"
	SourceEnv      = "env"
	SourceNone     = "none"
)

// Source 是一个凭证来源。
type Source interface {
	Name() string
	Lookup(provider string) (string, bool)
}

// Resolver 按优先级依次查询凭证来源，返回第一个命中的值。
type Resolver struct {
	sources []Source
}

// NewResolver evaluates sources in the given order.
func NewResolver(sources ...Source) *Resolver {
	return &Resolver{sources: sources}
}

// Resolve returns the key and the name of the source that produced it.
func (r *Resolver) Resolve(provider string) (string, string) {
	for _, source := range r.sources {
		if value, ok := source.Lookup(provider); ok {
			return value, source.Name()
		}
	}
	return "", SourceNone
}

// Key is Resolve without the source name.
func (r *Resolver) Key(provider string) string {
	value, _ := r.Resolve(provider)
	return value
}

// OverrideSource holds keys entered by the user for this process only.
type OverrideSource struct {
	mu   sync.RWMutex
	keys map[string]string
}

func NewOverrideSource() *OverrideSource {
	return &OverrideSource{keys: make(map[string]string)}
}

func (s *OverrideSource) Name() string { return SourceOverride }

func (s *OverrideSource) Lookup(provider string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.keys[provider]
	return value, ok && value != ""
}

// Set stores a key; an empty key clears the override.
func (s *OverrideSource) Set(provider, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == "" {
		delete(s.keys, provider)
		return
	}
	s.keys[provider] = key
}

// FileSource reads keys persisted under <root>/_config/<provider>_api_key.
type FileSource struct {
	layout *layout.Layout
}

func NewFileSource(l *layout.Layout) *FileSource {
	return &FileSource{layout: l}
}

func (s *FileSource) Name() string { return SourceFile }

func (s *FileSource) Lookup(provider string) (string, bool) {
	data, err := os.ReadFile(s.layout.KeyPath(provider))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("[config] failed to read %s key: %v", provider, err)
		}
		return "", false
	}
	value := strings.TrimSpace(string(data))
	return value, value != ""
}

// Store persists a key; an empty key removes the file.
func (s *FileSource) Store(provider, key string) error {
	path := s.layout.KeyPath(provider)
	if key == "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s key: %w", provider, err)
		}
		return nil
	}
	if err := layout.EnsureDir(s.layout.ConfigDir()); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(key), 0o600); err != nil {
		return fmt.Errorf("write %s key: %w", provider, err)
	}
	return nil
}

// StaticSource serves the keys baked into the environment at startup.
type StaticSource struct {
	keys map[string]string
}

// EnvSource builds the build-default source from the loaded configuration.
func EnvSource(cfg *Config) *StaticSource {
	return &StaticSource{keys: map[string]string{
		ProviderOpenAI: cfg.Speech.APIKey,
		ProviderArk:    cfg.AI.APIKey,
	}}
}

func (s *StaticSource) Name() string { return SourceEnv }

func (s *StaticSource) Lookup(provider string) (string, bool) {
	value := s.keys[provider]
	return value, value != ""
}
