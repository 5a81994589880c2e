package events

import (
	"context"
	"time"
)

// Event types pushed to clients.
const (
	TypeSessionState        = "session.state"
	TypeConversationUpdated = "conversation.updated"
	TypePlaybackStarted     = "playback.started"
	TypePlaybackPosition    = "playback.position"
	TypePlaybackStopped     = "playback.stopped"
	TypePlaybackCompleted   = "playback.completed"
	TypeExportProgress      = "export.progress"
)

// Event is a state change observed by the controller, the player or the
// exporter.
type Event struct {
	Type           string         `json:"type"`
	ConversationID string         `json:"conversationId,omitempty"`
	TurnID         string         `json:"turnId,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	Time           time.Time      `json:"time"`
}

// Publisher never blocks the caller on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Multi forwards each event to every publisher in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, event)
		}
	}
}

// Stamp fills the event time when the producer left it empty.
func Stamp(event Event) Event {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	return event
}
