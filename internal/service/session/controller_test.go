package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/thoughtforge/backend/internal/model/conversation"
	convservice "github.com/zhouzirui/thoughtforge/backend/internal/service/conversation"
	"github.com/zhouzirui/thoughtforge/backend/internal/service/events"
	"github.com/zhouzirui/thoughtforge/backend/internal/storage/layout"
)

type fakeTranscriber struct {
	text  string
	err   error
	paths []string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, path string) (string, error) {
	f.paths = append(f.paths, path)
	return f.text, f.err
}

type fakeChat struct {
	reply   string
	err     error
	calls   [][]conversation.Turn
	prompts []string

	entered chan struct{}
	release chan struct{}
}

func (f *fakeChat) Reply(_ context.Context, systemPrompt string, turns []conversation.Turn) (string, error) {
	f.calls = append(f.calls, append([]conversation.Turn{}, turns...))
	f.prompts = append(f.prompts, systemPrompt)
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	return f.reply, f.err
}

type staticPrompt string

func (p staticPrompt) SystemPrompt() string { return string(p) }

type fakeSubjects struct{ subject string }

func (f fakeSubjects) Subject(context.Context, string) (string, error) { return f.subject, nil }

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturePublisher) Publish(_ context.Context, event events.Event) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
}

func (c *capturePublisher) states() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, e := range c.events {
		if e.Type == events.TypeSessionState {
			out = append(out, string(e.Data["state"].(State)))
		}
	}
	return out
}

type harness struct {
	ctrl       *Controller
	store      *convservice.Store
	layout     *layout.Layout
	recorder   *UploadRecorder
	transcribe *fakeTranscriber
	chat       *fakeChat
	publisher  *capturePublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	l := layout.New(t.TempDir())
	store := convservice.NewStore(l, fakeSubjects{subject: "Treehouse plans"})
	h := &harness{
		store:      store,
		layout:     l,
		recorder:   NewUploadRecorder(),
		transcribe: &fakeTranscriber{text: "I want to build a treehouse."},
		chat:       &fakeChat{reply: "Tell me more about the treehouse."},
		publisher:  &capturePublisher{},
	}
	h.ctrl = NewController(Dependencies{
		Namer:       layout.NewNamer(l),
		Store:       store,
		Recorder:    h.recorder,
		Transcriber: h.transcribe,
		Chat:        h.chat,
		Prompts:     staticPrompt("coach"),
		Publisher:   h.publisher,
	})
	return h
}

func (h *harness) recordTurn(t *testing.T, audio string) Result {
	t.Helper()
	ctx := context.Background()
	if _, err := h.ctrl.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording err: %v", err)
	}
	if audio != "" {
		if err := h.ctrl.AppendAudio([]byte(audio)); err != nil {
			t.Fatalf("AppendAudio err: %v", err)
		}
	}
	result, err := h.ctrl.StopRecording(ctx)
	if err != nil {
		t.Fatalf("StopRecording err: %v", err)
	}
	return result
}

func TestTreehouseScenario(t *testing.T) {
	h := newHarness(t)

	result := h.recordTurn(t, "idea one")
	if result.Outcome != OutcomeReplied {
		t.Fatalf("unexpected outcome: %s", result.Outcome)
	}

	doc, err := h.store.Load(context.Background(), result.ConversationID)
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if len(doc.Turns) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(doc.Turns))
	}
	user, assistant := doc.Turns[0], doc.Turns[1]
	if user.Role != conversation.RoleUser || user.Content != "I want to build a treehouse." {
		t.Fatalf("unexpected user turn: %+v", user)
	}
	if assistant.Role != conversation.RoleAssistant || assistant.Content != "Tell me more about the treehouse." {
		t.Fatalf("unexpected assistant turn: %+v", assistant)
	}
	if !assistant.Timestamp.After(user.Timestamp) {
		t.Fatalf("timestamps must increase: %v then %v", user.Timestamp, assistant.Timestamp)
	}

	wantClip := h.layout.ArtifactPath(result.ConversationID, 0, conversation.RoleUser, layout.ExtUserAudio)
	if user.FileName != wantClip {
		t.Fatalf("unexpected clip path: %s want %s", user.FileName, wantClip)
	}
	if data, err := os.ReadFile(wantClip); err != nil || string(data) != "idea one" {
		t.Fatalf("clip not written: %q, %v", data, err)
	}
	if data, err := os.ReadFile(layout.TranscriptPath(user.FileName)); err != nil || string(data) != user.Content {
		t.Fatalf("user transcript not written: %q, %v", data, err)
	}
	if filepath.Ext(assistant.FileName) != layout.ExtSynthesized {
		t.Fatalf("assistant audio should be mp3, got %s", assistant.FileName)
	}
	if _, err := os.Stat(assistant.FileName); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("assistant audio must be generated lazily, stat err: %v", err)
	}
	if data, err := os.ReadFile(layout.TranscriptPath(assistant.FileName)); err != nil || string(data) != assistant.Content {
		t.Fatalf("assistant transcript not written: %q, %v", data, err)
	}

	if got := h.chat.prompts[0]; got != "coach" {
		t.Fatalf("expected the configured system prompt, got %q", got)
	}
	if len(h.chat.calls[0]) != 1 {
		t.Fatalf("chat should receive the full history including the new user turn")
	}

	status := h.ctrl.Status()
	if status.State != StateIdle || status.TurnCount != 2 || status.LastOutcome != OutcomeReplied {
		t.Fatalf("unexpected status: %+v", status)
	}

	want := []string{"recording", "transcribing", "awaiting_reply", "idle"}
	got := h.publisher.states()
	if len(got) != len(want) {
		t.Fatalf("unexpected state sequence: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected state sequence: %v", got)
		}
	}
}

func TestChatFailureStoresFallback(t *testing.T) {
	h := newHarness(t)
	h.chat.err = errors.New("network unreachable")
	h.chat.reply = ""

	result := h.recordTurn(t, "idea one")
	if result.Outcome != OutcomeFallback {
		t.Fatalf("unexpected outcome: %s", result.Outcome)
	}

	doc, err := h.store.Load(context.Background(), result.ConversationID)
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if len(doc.Turns) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(doc.Turns))
	}
	if doc.Turns[0].Role != conversation.RoleUser || doc.Turns[1].Content != FallbackReply {
		t.Fatalf("unexpected turns: %+v", doc.Turns)
	}
	if h.ctrl.Status().State != StateIdle {
		t.Fatalf("controller must return to idle")
	}
}

func TestTranscriptionFailureAppendsNothing(t *testing.T) {
	h := newHarness(t)
	h.transcribe.err = errors.New("timeout")

	result := h.recordTurn(t, "idea one")
	if result.Outcome != OutcomeTranscriptionFailed {
		t.Fatalf("unexpected outcome: %s", result.Outcome)
	}
	if len(h.chat.calls) != 0 {
		t.Fatal("chat must not be called")
	}
	if _, err := os.Stat(h.layout.DocumentPath(result.ConversationID)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("no document expected, stat err: %v", err)
	}
	if status := h.ctrl.Status(); status.State != StateIdle || status.TurnCount != 0 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestEmptyTranscriptIsNoSpeech(t *testing.T) {
	h := newHarness(t)
	h.transcribe.text = "   "

	if result := h.recordTurn(t, "noise"); result.Outcome != OutcomeNoSpeech {
		t.Fatalf("unexpected outcome: %s", result.Outcome)
	}
	if h.ctrl.Status().TurnCount != 0 {
		t.Fatal("no turn expected")
	}
}

func TestEmptyRecordingIsNoSpeech(t *testing.T) {
	h := newHarness(t)
	if result := h.recordTurn(t, ""); result.Outcome != OutcomeNoSpeech {
		t.Fatalf("unexpected outcome: %s", result.Outcome)
	}
	if len(h.transcribe.paths) != 0 {
		t.Fatal("transcriber must not be called for an empty clip")
	}
}

func TestStateGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.ctrl.StopRecording(ctx); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}
	if err := h.ctrl.AppendAudio([]byte("x")); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}
	if _, err := h.ctrl.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording err: %v", err)
	}
	if _, err := h.ctrl.StartRecording(ctx); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestToggle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	started, err := h.ctrl.Toggle(ctx)
	if err != nil || started.Outcome != OutcomeRecording {
		t.Fatalf("expected recording to start, got %+v, %v", started, err)
	}
	if err := h.ctrl.AppendAudio([]byte("clip")); err != nil {
		t.Fatalf("AppendAudio err: %v", err)
	}
	stopped, err := h.ctrl.Toggle(ctx)
	if err != nil || stopped.Outcome != OutcomeReplied {
		t.Fatalf("expected a reply, got %+v, %v", stopped, err)
	}
}

func TestTurnIndexesFollowHistory(t *testing.T) {
	h := newHarness(t)
	first := h.recordTurn(t, "one")
	second := h.recordTurn(t, "two")

	if first.ConversationID != second.ConversationID {
		t.Fatal("turns must stay in the same conversation")
	}
	want := h.layout.ArtifactPath(first.ConversationID, 2, conversation.RoleUser, layout.ExtUserAudio)
	if second.UserTurn.FileName != want {
		t.Fatalf("unexpected second clip path: %s want %s", second.UserTurn.FileName, want)
	}
	if len(h.chat.calls[1]) != 3 {
		t.Fatalf("second chat call should see 3 turns, got %d", len(h.chat.calls[1]))
	}
	if second.Subject != "Treehouse plans" || h.ctrl.Status().Subject != "Treehouse plans" {
		t.Fatalf("expected subject after the third turn, got %q", second.Subject)
	}
}

func TestNewConversationResets(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for turns := 0; turns < 3; turns++ {
		for i := 0; i < turns; i++ {
			h.recordTurn(t, "clip")
		}
		previous := h.ctrl.Status().ConversationID

		status, err := h.ctrl.NewConversation(ctx)
		if err != nil {
			t.Fatalf("NewConversation err: %v", err)
		}
		if status.ConversationID == "" || status.ConversationID == previous {
			t.Fatalf("expected a fresh id, got %q after %q", status.ConversationID, previous)
		}
		if status.TurnCount != 0 || len(h.ctrl.Turns()) != 0 || status.State != StateIdle {
			t.Fatalf("expected an empty idle conversation, got %+v", status)
		}
	}
}

func TestNewConversationCancelsRecording(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.ctrl.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording err: %v", err)
	}
	clip := h.ctrl.Status().PendingPath
	if _, err := h.ctrl.NewConversation(ctx); err != nil {
		t.Fatalf("NewConversation err: %v", err)
	}
	if h.recorder.Active() {
		t.Fatal("recording should be cancelled")
	}
	if _, err := os.Stat(clip); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("cancelled clip should be removed, stat err: %v", err)
	}
	if _, err := h.ctrl.StopRecording(ctx); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}
}

func TestInFlightCycleFinishesInOriginalConversation(t *testing.T) {
	h := newHarness(t)
	h.chat.entered = make(chan struct{})
	h.chat.release = make(chan struct{})
	ctx := context.Background()

	if _, err := h.ctrl.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording err: %v", err)
	}
	if err := h.ctrl.AppendAudio([]byte("clip")); err != nil {
		t.Fatalf("AppendAudio err: %v", err)
	}
	original := h.ctrl.Status().ConversationID

	done := make(chan Result, 1)
	go func() {
		result, _ := h.ctrl.StopRecording(ctx)
		done <- result
	}()

	select {
	case <-h.chat.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("chat was not called")
	}
	if state := h.ctrl.Status().State; state != StateAwaitingReply {
		t.Fatalf("expected awaiting_reply while the chat call runs, got %s", state)
	}

	fresh, err := h.ctrl.NewConversation(ctx)
	if err != nil {
		t.Fatalf("NewConversation err: %v", err)
	}
	close(h.chat.release)

	var result Result
	select {
	case result = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("turn cycle did not finish")
	}
	if result.ConversationID != original || result.Outcome != OutcomeReplied {
		t.Fatalf("unexpected result: %+v", result)
	}

	doc, err := h.store.Load(ctx, original)
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if len(doc.Turns) != 2 {
		t.Fatalf("original conversation should hold both turns, got %d", len(doc.Turns))
	}

	status := h.ctrl.Status()
	if status.ConversationID != fresh.ConversationID || status.TurnCount != 0 || status.State != StateIdle {
		t.Fatalf("new conversation was disturbed: %+v", status)
	}
}
