package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/thoughtforge/backend/internal/model/conversation"
	"github.com/zhouzirui/thoughtforge/backend/internal/storage/layout"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrTurnNotFound         = errors.New("turn not found")
	ErrInvalidID            = errors.New("invalid conversation id")
	ErrSaveFailed           = errors.New("conversation save failed")
	ErrSubjectUnavailable   = errors.New("subject generator unavailable")
)

// SubjectTurns is the number of turns a conversation needs before a subject
// is derived from them.
const SubjectTurns = 3

// SubjectGenerator turns a short multi-turn summary into a title.
type SubjectGenerator interface {
	Subject(ctx context.Context, summary string) (string, error)
}

// Store keeps the conversations touched by this process in memory and
// rewrites each one's JSON document in full after every mutation.
type Store struct {
	mu            sync.RWMutex
	layout        *layout.Layout
	subjects      SubjectGenerator
	conversations map[string]conversation.Conversation
	now           func() time.Time
}

// NewStore returns a store rooted at the given layout. subjects may be nil,
// in which case subject derivation is skipped.
func NewStore(l *layout.Layout, subjects SubjectGenerator) *Store {
	return &Store{
		layout:        l,
		subjects:      subjects,
		conversations: make(map[string]conversation.Conversation),
		now:           time.Now,
	}
}

// Layout exposes the storage layout the store writes to.
func (s *Store) Layout() *layout.Layout {
	return s.layout
}

// CreateSession allocates a fresh conversation. Nothing is written to disk
// until the first turn is appended.
func (s *Store) CreateSession(ctx context.Context) conversation.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := layout.NewPrefix(s.now())
	for s.existsLocked(id) {
		id = layout.NewPrefix(s.now())
	}
	return s.openLocked(id)
}

// Open returns the conversation with the given id, registering an empty one
// when neither memory nor disk knows it.
func (s *Store) Open(ctx context.Context, id string) conversation.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked(id)
}

func (s *Store) openLocked(id string) conversation.Conversation {
	if conv, ok := s.conversations[id]; ok {
		return conv.Clone()
	}
	conv, err := s.readDocument(id)
	if err == nil {
		s.conversations[id] = conv
		return conv.Clone()
	}
	if !errors.Is(err, ErrConversationNotFound) {
		log.Printf("[store] replacing unreadable document %s: %v", id, err)
	}

	conv = conversation.Conversation{
		ID:        id,
		StartTime: s.now().UTC(),
		Turns:     []conversation.Turn{},
	}
	s.conversations[id] = conv
	return conv.Clone()
}

func (s *Store) existsLocked(id string) bool {
	if _, ok := s.conversations[id]; ok {
		return true
	}
	_, err := os.Stat(s.layout.DocumentPath(id))
	return err == nil
}

// AppendTurns replaces the conversation's turn list with the supplied full
// history and rewrites its document. When the write fails the in-memory
// state still holds the new history; the error wraps ErrSaveFailed.
func (s *Store) AppendTurns(ctx context.Context, id string, turns []conversation.Turn) (conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.lookupLocked(id)
	if err != nil {
		return conversation.Conversation{}, err
	}

	conv.Turns = append([]conversation.Turn{}, turns...)
	s.conversations[id] = conv

	if err := s.persistLocked(conv); err != nil {
		return conv.Clone(), err
	}
	return conv.Clone(), nil
}

// AttachArtifact binds a lazily generated audio file to a persisted turn and
// returns the updated turn.
func (s *Store) AttachArtifact(ctx context.Context, id, turnID, path string) (conversation.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.lookupLocked(id)
	if err != nil {
		return conversation.Turn{}, err
	}

	turn, idx, ok := conv.FindTurn(turnID)
	if !ok {
		return conversation.Turn{}, ErrTurnNotFound
	}

	updated := turn.WithArtifact(path)
	turns := append([]conversation.Turn{}, conv.Turns...)
	turns[idx] = updated
	conv.Turns = turns
	s.conversations[id] = conv

	if err := s.persistLocked(conv); err != nil {
		return updated, err
	}
	return updated, nil
}

// DeriveSubjectIfEligible derives a subject from the first turns once the
// conversation has at least SubjectTurns turns and no subject yet. An
// existing subject is returned unchanged and never recomputed.
func (s *Store) DeriveSubjectIfEligible(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	conv, err := s.lookupLocked(id)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	if conv.Subject != "" || len(conv.Turns) < SubjectTurns {
		return conv.Subject, nil
	}
	if s.subjects == nil {
		return "", ErrSubjectUnavailable
	}

	subject, err := s.subjects.Subject(ctx, Summarize(conv.Turns[:SubjectTurns]))
	if err != nil {
		log.Printf("[store] subject derivation failed for %s: %v", id, err)
		return "", fmt.Errorf("derive subject: %w", err)
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.lookupLocked(id)
	if err != nil {
		return "", err
	}
	if current.Subject != "" {
		return current.Subject, nil
	}

	current.Subject = subject
	s.conversations[id] = current
	if err := s.persistLocked(current); err != nil {
		return subject, err
	}
	log.Printf("[store] derived subject for %s: %q", id, subject)
	return subject, nil
}

// Summarize renders turns as "role: content" lines for subject derivation.
func Summarize(turns []conversation.Turn) string {
	var builder strings.Builder
	for i, turn := range turns {
		if i > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(string(turn.Role))
		builder.WriteString(": ")
		builder.WriteString(strings.TrimSpace(turn.Content))
	}
	return builder.String()
}

// Get returns the in-memory conversation, falling back to its document.
func (s *Store) Get(ctx context.Context, id string) (conversation.Conversation, error) {
	if !layout.ValidID(id) {
		return conversation.Conversation{}, ErrInvalidID
	}

	s.mu.RLock()
	conv, ok := s.conversations[id]
	s.mu.RUnlock()
	if ok {
		return conv.Clone(), nil
	}
	return s.Load(ctx, id)
}

// Load reads a conversation document from disk.
func (s *Store) Load(ctx context.Context, id string) (conversation.Conversation, error) {
	if !layout.ValidID(id) {
		return conversation.Conversation{}, ErrInvalidID
	}
	return s.readDocument(id)
}

// ListSessions parses every conversation document, newest first. Documents
// that fail to parse are logged and skipped.
func (s *Store) ListSessions(ctx context.Context) ([]conversation.Conversation, error) {
	entries, err := os.ReadDir(s.layout.ConversationsDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []conversation.Conversation{}, nil
		}
		log.Printf("[store] failed to list conversations: %v", err)
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	conversations := make([]conversation.Conversation, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != layout.ExtDocument {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		id := strings.TrimSuffix(entry.Name(), layout.ExtDocument)
		conv, err := s.readDocument(id)
		if err != nil {
			log.Printf("[store] skipping unreadable document %s: %v", entry.Name(), err)
			continue
		}
		conversations = append(conversations, conv)
	}

	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].StartTime.After(conversations[j].StartTime)
	})
	return conversations, nil
}

// LoadArtifactNames lists the files in the conversation's directory whose
// name starts with the conversation id.
func (s *Store) LoadArtifactNames(ctx context.Context, id string) ([]string, error) {
	if !layout.ValidID(id) {
		return nil, ErrInvalidID
	}

	entries, err := os.ReadDir(s.layout.SessionDir(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		log.Printf("[store] failed to read artifacts of %s: %v", id, err)
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), id) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// ArtifactPath resolves a listed artifact name to its path on disk.
func (s *Store) ArtifactPath(ctx context.Context, id, name string) (string, error) {
	if !layout.ValidID(id) {
		return "", ErrInvalidID
	}
	if name != filepath.Base(name) || !strings.HasPrefix(name, id) {
		return "", fmt.Errorf("%w: %s", os.ErrNotExist, name)
	}

	path := filepath.Join(s.layout.SessionDir(id), name)
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

// SaveTranscript writes a turn's text next to its audio artifact.
func (s *Store) SaveTranscript(turn conversation.Turn) error {
	if turn.FileName == "" {
		return nil
	}
	path := layout.TranscriptPath(turn.FileName)
	if err := layout.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(turn.Content), 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}

func (s *Store) lookupLocked(id string) (conversation.Conversation, error) {
	if !layout.ValidID(id) {
		return conversation.Conversation{}, ErrInvalidID
	}
	if conv, ok := s.conversations[id]; ok {
		return conv, nil
	}

	conv, err := s.readDocument(id)
	if err != nil {
		return conversation.Conversation{}, err
	}
	s.conversations[id] = conv
	return conv, nil
}

func (s *Store) persistLocked(conv conversation.Conversation) error {
	if err := s.writeDocument(conv); err != nil {
		log.Printf("[store] save of %s did not happen: %v", conv.ID, err)
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	return nil
}
