package speech

import (
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/zhouzirui/thoughtforge/backend/internal/config"
)

// ErrMissingAPIKey 表示没有可用的 OpenAI 密钥。
var ErrMissingAPIKey = errors.New("openai api key not configured")

// KeySource resolves provider keys at call time.
type KeySource interface {
	Key(provider string) string
}

// newClient 每次调用时解析密钥，用户在设置中修改后立即生效。
func (s *Service) newClient() (*openai.Client, error) {
	key := ""
	if s.keys != nil {
		key = strings.TrimSpace(s.keys.Key(config.ProviderOpenAI))
	}
	if key == "" {
		return nil, ErrMissingAPIKey
	}

	clientCfg := openai.DefaultConfig(key)
	if s.cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(s.cfg.BaseURL, "/")
	}
	return openai.NewClientWithConfig(clientCfg), nil
}
