package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/thoughtforge/backend/internal/config"
	"github.com/zhouzirui/thoughtforge/backend/internal/model/conversation"
)

var (
	ErrNoQuery       = errors.New("conversation must end with a user turn")
	ErrEmptyResponse = errors.New("model returned an empty response")
)

// KeySource resolves provider keys at call time.
type KeySource interface {
	Key(provider string) string
}

// ModelFactory builds a chat model for the given API key.
type ModelFactory func(ctx context.Context, apiKey string) (model.BaseChatModel, error)

// Service 封装对话模型：回复生成与会话标题生成共用同一条 eino 链。
type Service struct {
	mu      sync.Mutex
	factory ModelFactory
	keys    KeySource
	key     string
	chain   compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates a service whose model follows the resolved ARK key.
// The chain is rebuilt whenever the key changes.
func NewService(cfg config.AIConfig, keys KeySource) *Service {
	return &Service{
		keys: keys,
		factory: func(ctx context.Context, apiKey string) (model.BaseChatModel, error) {
			resolved := cfg
			if apiKey != "" {
				resolved = cfg.WithAPIKey(apiKey)
			}
			return resolved.NewChatModel(ctx)
		},
	}
}

// NewServiceWithModel binds a fixed model.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel) (*Service, error) {
	chain, err := buildChain(ctx, chatModel)
	if err != nil {
		return nil, err
	}
	return &Service{chain: chain}, nil
}

func buildChain(ctx context.Context, chatModel model.BaseChatModel) (compose.Runnable[map[string]any, *schema.Message], error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}
	return runnable, nil
}

func (s *Service) runnable(ctx context.Context) (compose.Runnable[map[string]any, *schema.Message], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.factory == nil {
		return s.chain, nil
	}

	key := ""
	if s.keys != nil {
		key = s.keys.Key(config.ProviderArk)
	}
	if s.chain != nil && key == s.key {
		return s.chain, nil
	}

	chatModel, err := s.factory(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	chain, err := buildChain(ctx, chatModel)
	if err != nil {
		return nil, err
	}
	s.chain = chain
	s.key = key
	return chain, nil
}

// Reply 根据系统提示词与完整历史生成助手回复。历史中最后一条必须是用户发言。
func (s *Service) Reply(ctx context.Context, systemPrompt string, turns []conversation.Turn) (string, error) {
	if len(turns) == 0 || turns[len(turns)-1].Role != conversation.RoleUser {
		return "", ErrNoQuery
	}

	chain, err := s.runnable(ctx)
	if err != nil {
		return "", err
	}

	last := turns[len(turns)-1]
	input := map[string]any{
		"system":  systemPrompt,
		"history": buildHistoryMessages(turns[:len(turns)-1]),
		"query":   last.Content,
	}

	response, err := chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	content := strings.TrimSpace(response.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}

	log.Printf("[ai] generated reply, history=%d, length=%d", len(turns)-1, len(content))
	return content, nil
}

// Subject 为会话生成一个简短标题。
func (s *Service) Subject(ctx context.Context, summary string) (string, error) {
	chain, err := s.runnable(ctx)
	if err != nil {
		return "", err
	}

	response, err := chain.Invoke(ctx, map[string]any{
		"system": SubjectPrompt,
		"query":  summary,
	})
	if err != nil {
		return "", fmt.Errorf("failed to derive subject: %w", err)
	}

	subject := CleanSubject(response.Content)
	if subject == "" {
		return "", ErrEmptyResponse
	}
	return subject, nil
}

// CleanSubject keeps the first line of a model answer, strips quotes and
// trailing punctuation, and caps the length.
func CleanSubject(raw string) string {
	subject := strings.TrimSpace(raw)
	if idx := strings.IndexAny(subject, "\r\n"); idx >= 0 {
		subject = subject[:idx]
	}
	subject = strings.TrimPrefix(subject, "Title:")
	subject = strings.Trim(strings.TrimSpace(subject), "\"'“”«» ")
	subject = strings.TrimRight(subject, ".。!！")

	runes := []rune(subject)
	if len(runes) > maxSubjectRunes {
		subject = strings.TrimSpace(string(runes[:maxSubjectRunes]))
	}
	return subject
}

func buildHistoryMessages(turns []conversation.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case conversation.RoleUser:
			history = append(history, schema.UserMessage(turn.Content))
		case conversation.RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return history
}
