package conversation

import "time"

// Role tags the speaker of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one utterance inside a conversation. FileName always points at the
// audio artifact; the transcript is its .txt sibling.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	FileName  string    `json:"fileName"`
}

// WithArtifact returns a copy of the turn bound to the given audio file.
func (t Turn) WithArtifact(path string) Turn {
	t.FileName = path
	return t
}

// Conversation is the persisted record of one brainstorming session.
// Turns serialise as "messages" to stay compatible with existing documents.
type Conversation struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"startTime"`
	Subject   string    `json:"subject,omitempty"`
	Turns     []Turn    `json:"messages"`
	Files     []string  `json:"-"`
}

// Clone returns a deep copy so callers never share the turn slice.
func (c Conversation) Clone() Conversation {
	out := c
	out.Turns = append([]Turn(nil), c.Turns...)
	out.Files = append([]string(nil), c.Files...)
	if out.Turns == nil {
		out.Turns = []Turn{}
	}
	return out
}

// FindTurn looks up a turn by identifier.
func (c Conversation) FindTurn(id string) (Turn, int, bool) {
	for i, turn := range c.Turns {
		if turn.ID == id {
			return turn, i, true
		}
	}
	return Turn{}, -1, false
}

// Title is the subject when derived, otherwise the identifier.
func (c Conversation) Title() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.ID
}

// Summary is the listing view of a conversation.
type Summary struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"startTime"`
	Subject   string    `json:"subject,omitempty"`
	TurnCount int       `json:"turnCount"`
}

// Summarize builds the listing view.
func (c Conversation) Summarize() Summary {
	return Summary{
		ID:        c.ID,
		StartTime: c.StartTime,
		Subject:   c.Subject,
		TurnCount: len(c.Turns),
	}
}
