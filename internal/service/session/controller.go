package session

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/thoughtforge/backend/internal/model/conversation"
	"github.com/zhouzirui/thoughtforge/backend/internal/service/events"
	"github.com/zhouzirui/thoughtforge/backend/internal/storage/layout"
)

// FallbackReply is stored as the assistant turn when the chat model fails.
const FallbackReply = "Sorry, I couldn't get a response. Please try again."

var (
	ErrBusy               = errors.New("session is busy")
	ErrNotRecording       = errors.New("no recording in progress")
	ErrChunksNotSupported = errors.New("recorder does not accept uploaded chunks")
)

// State of the turn cycle.
type State string

const (
	StateIdle          State = "idle"
	StateRecording     State = "recording"
	StateTranscribing  State = "transcribing"
	StateAwaitingReply State = "awaiting_reply"
)

// Outcome of a completed turn cycle.
type Outcome string

const (
	OutcomeRecording           Outcome = "recording"
	OutcomeReplied             Outcome = "replied"
	OutcomeFallback            Outcome = "fallback"
	OutcomeNoSpeech            Outcome = "no_speech"
	OutcomeTranscriptionFailed Outcome = "transcription_failed"
)

type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

type ChatResponder interface {
	Reply(ctx context.Context, systemPrompt string, turns []conversation.Turn) (string, error)
}

type PromptSource interface {
	SystemPrompt() string
}

// ConversationStore is the persistence the controller needs.
type ConversationStore interface {
	CreateSession(ctx context.Context) conversation.Conversation
	Open(ctx context.Context, id string) conversation.Conversation
	AppendTurns(ctx context.Context, id string, turns []conversation.Turn) (conversation.Conversation, error)
	DeriveSubjectIfEligible(ctx context.Context, id string) (string, error)
	SaveTranscript(turn conversation.Turn) error
}

// Status is a snapshot of the controller.
type Status struct {
	State          State   `json:"state"`
	ConversationID string  `json:"conversationId,omitempty"`
	Subject        string  `json:"subject,omitempty"`
	TurnCount      int     `json:"turnCount"`
	PendingPath    string  `json:"pendingPath,omitempty"`
	LastOutcome    Outcome `json:"lastOutcome,omitempty"`
}

// Result describes what one stop (or toggle) produced.
type Result struct {
	Outcome        Outcome            `json:"outcome"`
	ConversationID string             `json:"conversationId"`
	UserTurn       *conversation.Turn `json:"userTurn,omitempty"`
	AssistantTurn  *conversation.Turn `json:"assistantTurn,omitempty"`
	Subject        string             `json:"subject,omitempty"`
	SaveError      string             `json:"saveError,omitempty"`
}

// Dependencies groups the collaborators of a Controller.
type Dependencies struct {
	Namer       *layout.Namer
	Store       ConversationStore
	Recorder    Recorder
	Transcriber Transcriber
	Chat        ChatResponder
	Prompts     PromptSource
	Publisher   events.Publisher
}

// Controller drives the record → transcribe → reply cycle of the current
// conversation. Its mutex is never held across collaborator calls.
type Controller struct {
	mu sync.Mutex

	deps Dependencies

	state       State
	gen         uint64
	convID      string
	turns       []conversation.Turn
	subject     string
	pending     string
	lastOutcome Outcome

	now       func() time.Time
	lastStamp time.Time
}

func NewController(deps Dependencies) *Controller {
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	return &Controller{
		deps:  deps,
		state: StateIdle,
		now:   time.Now,
	}
}

// Status returns the current snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	return Status{
		State:          c.state,
		ConversationID: c.convID,
		Subject:        c.subject,
		TurnCount:      len(c.turns),
		PendingPath:    c.pending,
		LastOutcome:    c.lastOutcome,
	}
}

// Turns returns a copy of the current conversation's turns.
func (c *Controller) Turns() []conversation.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]conversation.Turn{}, c.turns...)
}

// StartRecording begins capturing the next user turn.
func (c *Controller) StartRecording(ctx context.Context) (Status, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return Status{}, ErrBusy
	}

	if c.convID == "" {
		conv := c.deps.Store.Open(ctx, c.deps.Namer.Prefix())
		c.convID = conv.ID
		c.turns = conv.Turns
		c.subject = conv.Subject
	}

	path, err := c.deps.Namer.Path(len(c.turns), conversation.RoleUser, layout.ExtUserAudio)
	if err != nil {
		c.mu.Unlock()
		log.Printf("[session] failed to prepare clip path: %v", err)
		return Status{}, err
	}
	if err := c.deps.Recorder.Start(ctx, path); err != nil {
		c.mu.Unlock()
		log.Printf("[session] recorder failed to start: %v", err)
		return Status{}, err
	}

	c.state = StateRecording
	c.pending = path
	status := c.statusLocked()
	c.mu.Unlock()

	log.Printf("[session] recording turn %d of %s", status.TurnCount, status.ConversationID)
	c.publishState(ctx, status)
	return status, nil
}

// AppendAudio forwards an uploaded chunk to the active recording.
func (c *Controller) AppendAudio(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRecording {
		return ErrNotRecording
	}
	writer, ok := c.deps.Recorder.(io.Writer)
	if !ok {
		return ErrChunksNotSupported
	}
	_, err := writer.Write(p)
	return err
}

// StopRecording ends the recording and runs the rest of the turn cycle. The
// cycle is bound to the conversation it started in; a NewConversation issued
// meanwhile does not disturb it.
func (c *Controller) StopRecording(ctx context.Context) (Result, error) {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return Result{}, ErrNotRecording
	}

	clip, stopErr := c.deps.Recorder.Stop(ctx)
	c.state = StateTranscribing
	c.pending = ""
	gen := c.gen
	convID := c.convID
	history := append([]conversation.Turn{}, c.turns...)
	status := c.statusLocked()
	c.mu.Unlock()

	c.publishState(ctx, status)

	// The cycle always runs to completion so every waiting state is left.
	ctx = context.WithoutCancel(ctx)
	result := Result{ConversationID: convID}

	if stopErr != nil {
		outcome := OutcomeTranscriptionFailed
		if errors.Is(stopErr, ErrEmptyRecording) {
			outcome = OutcomeNoSpeech
		}
		log.Printf("[session] recording of %s produced no clip: %v", convID, stopErr)
		result.Outcome = outcome
		c.finish(ctx, gen, outcome)
		return result, nil
	}

	text, err := c.deps.Transcriber.Transcribe(ctx, clip)
	if err != nil {
		log.Printf("[session] transcription of %s failed: %v", clip, err)
		result.Outcome = OutcomeTranscriptionFailed
		c.finish(ctx, gen, OutcomeTranscriptionFailed)
		return result, nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		log.Printf("[session] no speech detected in %s", clip)
		result.Outcome = OutcomeNoSpeech
		c.finish(ctx, gen, OutcomeNoSpeech)
		return result, nil
	}

	userTurn := conversation.Turn{
		ID:        uuid.NewString(),
		Role:      conversation.RoleUser,
		Content:   text,
		Timestamp: c.stamp(),
		FileName:  clip,
	}
	history = append(history, userTurn)
	c.persist(ctx, convID, history, userTurn, &result)
	result.UserTurn = &userTurn

	c.mu.Lock()
	current := c.gen == gen
	if current {
		c.turns = append([]conversation.Turn{}, history...)
		c.state = StateAwaitingReply
		status = c.statusLocked()
	}
	c.mu.Unlock()
	if current {
		c.publishState(ctx, status)
	}
	c.publishUpdated(ctx, convID, len(history))

	outcome := OutcomeReplied
	reply, err := c.deps.Chat.Reply(ctx, c.systemPrompt(), history)
	if err != nil || strings.TrimSpace(reply) == "" {
		log.Printf("[session] chat reply for %s failed, storing fallback: %v", convID, err)
		reply = FallbackReply
		outcome = OutcomeFallback
	}

	assistantTurn := conversation.Turn{
		ID:        uuid.NewString(),
		Role:      conversation.RoleAssistant,
		Content:   reply,
		Timestamp: c.stamp(),
		FileName:  c.deps.Namer.Layout().ArtifactPath(convID, len(history), conversation.RoleAssistant, layout.ExtSynthesized),
	}
	history = append(history, assistantTurn)
	c.persist(ctx, convID, history, assistantTurn, &result)
	result.AssistantTurn = &assistantTurn
	result.Outcome = outcome

	c.mu.Lock()
	current = c.gen == gen
	if current {
		c.turns = append([]conversation.Turn{}, history...)
	}
	c.mu.Unlock()
	c.publishUpdated(ctx, convID, len(history))
	c.finish(ctx, gen, outcome)

	subject, err := c.deps.Store.DeriveSubjectIfEligible(ctx, convID)
	if err != nil {
		log.Printf("[session] subject for %s not derived: %v", convID, err)
	} else if subject != "" {
		result.Subject = subject
		c.mu.Lock()
		changed := c.gen == gen && c.subject != subject
		if changed {
			c.subject = subject
		}
		c.mu.Unlock()
		if changed {
			c.publishUpdated(ctx, convID, len(history))
		}
	}

	return result, nil
}

// Toggle starts a recording when idle and stops it when recording.
func (c *Controller) Toggle(ctx context.Context) (Result, error) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	switch state {
	case StateIdle:
		status, err := c.StartRecording(ctx)
		if err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeRecording, ConversationID: status.ConversationID}, nil
	case StateRecording:
		return c.StopRecording(ctx)
	default:
		return Result{}, ErrBusy
	}
}

// NewConversation abandons any active recording and starts an empty
// conversation with a fresh identifier. Persisted sessions are untouched.
func (c *Controller) NewConversation(ctx context.Context) (Status, error) {
	c.mu.Lock()
	if c.deps.Recorder.Active() {
		c.deps.Recorder.Cancel()
	}

	previous := c.convID
	if previous == "" {
		previous = c.deps.Namer.Current()
	}
	conv := c.deps.Store.CreateSession(ctx)
	for conv.ID == previous {
		conv = c.deps.Store.CreateSession(ctx)
	}
	c.deps.Namer.Adopt(conv.ID)

	c.gen++
	c.convID = conv.ID
	c.turns = []conversation.Turn{}
	c.subject = ""
	c.pending = ""
	c.lastOutcome = ""
	c.state = StateIdle
	status := c.statusLocked()
	c.mu.Unlock()

	log.Printf("[session] started conversation %s", conv.ID)
	c.publishState(ctx, status)
	c.publishUpdated(ctx, conv.ID, 0)
	return status, nil
}

func (c *Controller) finish(ctx context.Context, gen uint64, outcome Outcome) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.state = StateIdle
	c.lastOutcome = outcome
	status := c.statusLocked()
	c.mu.Unlock()

	c.publishState(ctx, status)
}

func (c *Controller) persist(ctx context.Context, convID string, history []conversation.Turn, turn conversation.Turn, result *Result) {
	if _, err := c.deps.Store.AppendTurns(ctx, convID, history); err != nil {
		log.Printf("[session] turn %s of %s not saved: %v", turn.ID, convID, err)
		result.SaveError = err.Error()
	}
	if err := c.deps.Store.SaveTranscript(turn); err != nil {
		log.Printf("[session] transcript of %s not written: %v", turn.ID, err)
	}
}

func (c *Controller) systemPrompt() string {
	if c.deps.Prompts == nil {
		return ""
	}
	return c.deps.Prompts.SystemPrompt()
}

// stamp returns a UTC timestamp strictly after the previous one.
func (c *Controller) stamp() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now().UTC()
	if !ts.After(c.lastStamp) {
		ts = c.lastStamp.Add(time.Millisecond)
	}
	c.lastStamp = ts
	return ts
}

func (c *Controller) publishState(ctx context.Context, status Status) {
	c.deps.Publisher.Publish(ctx, events.Event{
		Type:           events.TypeSessionState,
		ConversationID: status.ConversationID,
		Data: map[string]any{
			"state":     status.State,
			"turnCount": status.TurnCount,
			"outcome":   status.LastOutcome,
		},
	})
}

func (c *Controller) publishUpdated(ctx context.Context, convID string, turns int) {
	c.deps.Publisher.Publish(ctx, events.Event{
		Type:           events.TypeConversationUpdated,
		ConversationID: convID,
		Data:           map[string]any{"turnCount": turns},
	})
}
