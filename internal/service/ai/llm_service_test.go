package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/thoughtforge/backend/internal/model/conversation"
)

type recordingModel struct {
	reply  string
	err    error
	inputs [][]*schema.Message
}

func (m *recordingModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.inputs = append(m.inputs, input)
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *recordingModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.inputs = append(m.inputs, input)
	if m.err != nil {
		return nil, m.err
	}
	return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage(m.reply, nil)}), nil
}

type staticKeys map[string]string

func (k staticKeys) Key(provider string) string { return k[provider] }

func TestReplySendsSystemHistoryAndQuery(t *testing.T) {
	ctx := context.Background()
	fake := &recordingModel{reply: "  How about a rope bridge?  "}
	svc, err := NewServiceWithModel(ctx, fake)
	if err != nil {
		t.Fatalf("NewServiceWithModel err: %v", err)
	}

	turns := []conversation.Turn{
		{Role: conversation.RoleUser, Content: "Ideas for a treehouse"},
		{Role: conversation.RoleAssistant, Content: "What size?"},
		{Role: conversation.RoleUser, Content: "Small, for two kids"},
	}

	reply, err := svc.Reply(ctx, "be a coach", turns)
	if err != nil {
		t.Fatalf("Reply err: %v", err)
	}
	if reply != "How about a rope bridge?" {
		t.Fatalf("unexpected reply: %q", reply)
	}

	if len(fake.inputs) != 1 {
		t.Fatalf("expected one model call, got %d", len(fake.inputs))
	}
	msgs := fake.inputs[0]
	if len(msgs) != 4 {
		t.Fatalf("expected system + 2 history + query, got %d messages", len(msgs))
	}
	want := []struct {
		role    schema.RoleType
		content string
	}{
		{schema.System, "be a coach"},
		{schema.User, "Ideas for a treehouse"},
		{schema.Assistant, "What size?"},
		{schema.User, "Small, for two kids"},
	}
	for i, w := range want {
		if msgs[i].Role != w.role || msgs[i].Content != w.content {
			t.Fatalf("message %d: got %s %q, want %s %q", i, msgs[i].Role, msgs[i].Content, w.role, w.content)
		}
	}
}

func TestReplyRequiresTrailingUserTurn(t *testing.T) {
	ctx := context.Background()
	svc, err := NewServiceWithModel(ctx, &recordingModel{reply: "x"})
	if err != nil {
		t.Fatalf("NewServiceWithModel err: %v", err)
	}

	if _, err := svc.Reply(ctx, "sys", nil); !errors.Is(err, ErrNoQuery) {
		t.Fatalf("expected ErrNoQuery for empty history, got %v", err)
	}
	turns := []conversation.Turn{{Role: conversation.RoleAssistant, Content: "hi"}}
	if _, err := svc.Reply(ctx, "sys", turns); !errors.Is(err, ErrNoQuery) {
		t.Fatalf("expected ErrNoQuery, got %v", err)
	}
}

func TestReplyPropagatesModelFailure(t *testing.T) {
	ctx := context.Background()
	svc, err := NewServiceWithModel(ctx, &recordingModel{err: errors.New("quota")})
	if err != nil {
		t.Fatalf("NewServiceWithModel err: %v", err)
	}
	turns := []conversation.Turn{{Role: conversation.RoleUser, Content: "hi"}}
	if _, err := svc.Reply(ctx, "sys", turns); err == nil {
		t.Fatal("expected error")
	}
}

func TestSubjectUsesSubjectPrompt(t *testing.T) {
	ctx := context.Background()
	fake := &recordingModel{reply: "\"Treehouse for two kids.\"\nBecause the user..."}
	svc, err := NewServiceWithModel(ctx, fake)
	if err != nil {
		t.Fatalf("NewServiceWithModel err: %v", err)
	}

	subject, err := svc.Subject(ctx, "user: treehouse")
	if err != nil {
		t.Fatalf("Subject err: %v", err)
	}
	if subject != "Treehouse for two kids" {
		t.Fatalf("unexpected subject: %q", subject)
	}
	msgs := fake.inputs[0]
	if len(msgs) != 2 || msgs[0].Content != SubjectPrompt || msgs[1].Content != "user: treehouse" {
		t.Fatalf("unexpected subject prompt messages: %+v", msgs)
	}
}

func TestCleanSubjectCapsLength(t *testing.T) {
	long := strings.Repeat("idée ", 40)
	got := CleanSubject(long)
	if n := len([]rune(got)); n > maxSubjectRunes {
		t.Fatalf("expected at most %d runes, got %d", maxSubjectRunes, n)
	}
	if CleanSubject("   ") != "" {
		t.Fatal("expected empty subject for blank input")
	}
}

func TestChainRebuiltWhenKeyChanges(t *testing.T) {
	ctx := context.Background()
	keys := staticKeys{"ark": "first"}
	var built []string

	svc := &Service{
		keys: keys,
		factory: func(_ context.Context, apiKey string) (model.BaseChatModel, error) {
			built = append(built, apiKey)
			return &recordingModel{reply: "ok " + apiKey}, nil
		},
	}

	turns := []conversation.Turn{{Role: conversation.RoleUser, Content: "hi"}}
	for i := 0; i < 2; i++ {
		if _, err := svc.Reply(ctx, "sys", turns); err != nil {
			t.Fatalf("Reply err: %v", err)
		}
	}
	if len(built) != 1 {
		t.Fatalf("expected the chain to be reused, built %d times", len(built))
	}

	keys["ark"] = "second"
	reply, err := svc.Reply(ctx, "sys", turns)
	if err != nil {
		t.Fatalf("Reply err: %v", err)
	}
	if reply != "ok second" || len(built) != 2 {
		t.Fatalf("expected rebuild with the new key, got %q after %v", reply, built)
	}
}
