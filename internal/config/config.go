package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	AI       AIConfig
	Speech   SpeechConfig
	Export   ExportConfig
	Events   EventsConfig
	Playback PlaybackConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	events, err := loadEventsConfig()
	if err != nil {
		return nil, err
	}

	playback, err := loadPlaybackConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Storage:  StorageConfig{Root: getEnvOrDefault("STORAGE_ROOT", "./data")},
		AI:       ai,
		Speech:   speech,
		Export:   loadExportConfig(),
		Events:   events,
		Playback: playback,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// StorageConfig 描述会话文件的根目录。
type StorageConfig struct {
	Root string
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// WithAPIKey returns a copy using the given key.
func (c AIConfig) WithAPIKey(key string) AIConfig {
	c.APIKey = key
	return c
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: provide ARK_API_KEY + Model or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// SpeechConfig 描述语音识别与合成配置（OpenAI Whisper / TTS）。
type SpeechConfig struct {
	APIKey      string
	BaseURL     string
	ASRModel    string
	ASRLanguage string
	TTSModel    string
	TTSVoice    string
	TTSSpeed    float32
	Timeout     time.Duration
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30 // 默认30秒
	if timeout != nil && *timeout > 0 {
		timeoutSeconds = *timeout
	}

	speed, err := parseOptionalFloat32Env("SPEECH_TTS_SPEED")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsSpeed := float32(1.0)
	if speed != nil {
		if *speed < 0.25 || *speed > 4.0 {
			return SpeechConfig{}, fmt.Errorf("invalid SPEECH_TTS_SPEED value %v: must be within [0.25, 4.0]", *speed)
		}
		ttsSpeed = *speed
	}

	return SpeechConfig{
		APIKey:      strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		BaseURL:     getEnvOrDefault("OPENAI_BASE_URL", ""),
		ASRModel:    getEnvOrDefault("SPEECH_ASR_MODEL", "whisper-1"),
		ASRLanguage: getEnvOrDefault("SPEECH_ASR_LANGUAGE", ""),
		TTSModel:    getEnvOrDefault("SPEECH_TTS_MODEL", "tts-1"),
		TTSVoice:    getEnvOrDefault("SPEECH_TTS_VOICE", "alloy"),
		TTSSpeed:    ttsSpeed,
		Timeout:     time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// ExportConfig 描述 OneNote 导出与 Microsoft OAuth 配置。
type ExportConfig struct {
	ClientID     string
	ClientSecret string
	Tenant       string
	RedirectURL  string
	Notebook     string
	Section      string
	GraphBaseURL string
}

// Enabled reports whether an OAuth client is configured.
func (c ExportConfig) Enabled() bool {
	return c.ClientID != "" && c.RedirectURL != ""
}

func loadExportConfig() ExportConfig {
	return ExportConfig{
		ClientID:     strings.TrimSpace(os.Getenv("MICROSOFT_CLIENT_ID")),
		ClientSecret: strings.TrimSpace(os.Getenv("MICROSOFT_CLIENT_SECRET")),
		Tenant:       getEnvOrDefault("MICROSOFT_TENANT", "common"),
		RedirectURL:  getEnvOrDefault("ONENOTE_REDIRECT_URL", "http://localhost:8080/api/export/auth/callback"),
		Notebook:     getEnvOrDefault("ONENOTE_NOTEBOOK", "ThoughtForgeAI"),
		Section:      getEnvOrDefault("ONENOTE_SECTION", "Brainstorms"),
		GraphBaseURL: getEnvOrDefault("GRAPH_BASE_URL", "https://graph.microsoft.com/v1.0"),
	}
}

// EventsConfig 描述可选的 Redis 事件转发。
type EventsConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string
}

// RedisEnabled reports whether events are mirrored to Redis.
func (c EventsConfig) RedisEnabled() bool {
	return c.RedisAddr != ""
}

func loadEventsConfig() (EventsConfig, error) {
	db, err := parseOptionalIntEnv("REDIS_DB")
	if err != nil {
		return EventsConfig{}, err
	}
	redisDB := 0
	if db != nil {
		redisDB = *db
	}

	return EventsConfig{
		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		RedisChannel:  getEnvOrDefault("REDIS_CHANNEL", "thoughtforge.events"),
	}, nil
}

// PlaybackConfig 描述播放进度的轮询间隔。
type PlaybackConfig struct {
	PollInterval time.Duration
}

func loadPlaybackConfig() (PlaybackConfig, error) {
	interval, err := parseDurationEnv("PLAYBACK_POLL_INTERVAL", 250*time.Millisecond)
	if err != nil {
		return PlaybackConfig{}, err
	}
	if interval <= 0 {
		return PlaybackConfig{}, fmt.Errorf("invalid PLAYBACK_POLL_INTERVAL value %v: must be positive", interval)
	}
	return PlaybackConfig{PollInterval: interval}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
