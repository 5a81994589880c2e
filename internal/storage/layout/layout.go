package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/thoughtforge/backend/internal/model/conversation"
)

const (
	conversationsDir = "_conversations"
	configDir        = "_config"

	// ExtUserAudio is the container the client recorder produces.
	ExtUserAudio = ".mp4"
	// ExtSynthesized is the format returned by the speech synthesizer.
	ExtSynthesized = ".mp3"
	ExtTranscript  = ".txt"
	ExtDocument    = ".json"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Layout maps conversations, artifacts and settings onto the storage root.
type Layout struct {
	root string
}

// New returns a layout rooted at root.
func New(root string) *Layout {
	return &Layout{root: filepath.Clean(root)}
}

// Root returns the storage root.
func (l *Layout) Root() string {
	return l.root
}

// ConversationsDir holds one JSON document per conversation plus one
// artifact directory per conversation.
func (l *Layout) ConversationsDir() string {
	return filepath.Join(l.root, conversationsDir)
}

// SessionDir is the artifact directory of one conversation.
func (l *Layout) SessionDir(prefix string) string {
	return filepath.Join(l.ConversationsDir(), prefix)
}

// DocumentPath is <root>/_conversations/<id>.json.
func (l *Layout) DocumentPath(id string) string {
	return filepath.Join(l.ConversationsDir(), id+ExtDocument)
}

// ConfigDir holds plain-text settings and credentials.
func (l *Layout) ConfigDir() string {
	return filepath.Join(l.root, configDir)
}

// ConfigPath returns the path of a named settings file.
func (l *Layout) ConfigPath(name string) string {
	return filepath.Join(l.ConfigDir(), name)
}

// KeyPath is <root>/_config/<provider>_api_key.
func (l *Layout) KeyPath(provider string) string {
	return l.ConfigPath(provider + "_api_key")
}

// ArtifactName is <prefix>-<index>-<role><ext>.
func ArtifactName(prefix string, index int, role conversation.Role, ext string) string {
	return fmt.Sprintf("%s-%d-%s%s", prefix, index, role, ext)
}

// ArtifactPath is <root>/_conversations/<prefix>/<prefix>-<index>-<role><ext>.
func (l *Layout) ArtifactPath(prefix string, index int, role conversation.Role, ext string) string {
	return filepath.Join(l.SessionDir(prefix), ArtifactName(prefix, index, role, ext))
}

// EnsureDir creates dir and its parents if missing.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}

// AudioExt returns the audio extension used for a role's artifacts.
func AudioExt(role conversation.Role) string {
	if role == conversation.RoleUser {
		return ExtUserAudio
	}
	return ExtSynthesized
}

// TranscriptPath derives the transcript sibling of an audio artifact.
func TranscriptPath(audioPath string) string {
	return replaceExt(audioPath, ExtTranscript)
}

// AudioPath derives the audio sibling of a transcript for the given role.
func AudioPath(transcriptPath string, role conversation.Role) string {
	return replaceExt(transcriptPath, AudioExt(role))
}

func replaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// NewPrefix allocates a conversation identifier: a sortable UTC timestamp
// followed by eight random hex characters.
func NewPrefix(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return now.UTC().Format("20060102-150405") + "-" + suffix
}

// ValidID reports whether id is safe to use as a single path element.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}
