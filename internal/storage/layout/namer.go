package layout

import (
	"sync"
	"time"

	"github.com/zhouzirui/thoughtforge/backend/internal/model/conversation"
)

// Namer owns the conversation prefix of one recording session and hands out
// artifact paths under it.
type Namer struct {
	mu     sync.Mutex
	layout *Layout
	prefix string
	now    func() time.Time
}

// NewNamer returns a namer with no prefix allocated yet.
func NewNamer(l *Layout) *Namer {
	return &Namer{layout: l, now: time.Now}
}

// Layout returns the layout paths are derived from.
func (n *Namer) Layout() *Layout {
	return n.layout
}

// Prefix returns the current prefix, allocating one on first use.
func (n *Namer) Prefix() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.prefixLocked()
}

// Current returns the current prefix without allocating.
func (n *Namer) Current() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.prefix
}

// Adopt binds the namer to an existing conversation.
func (n *Namer) Adopt(prefix string) {
	n.mu.Lock()
	n.prefix = prefix
	n.mu.Unlock()
}

// Reset allocates a fresh prefix, never equal to the previous one.
func (n *Namer) Reset() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	previous := n.prefix
	next := NewPrefix(n.now())
	for next == previous {
		next = NewPrefix(n.now())
	}
	n.prefix = next
	return next
}

// Path returns the artifact path for a turn and makes sure its directory
// exists. The prefix is allocated first when the session has none.
func (n *Namer) Path(index int, role conversation.Role, ext string) (string, error) {
	n.mu.Lock()
	prefix := n.prefixLocked()
	n.mu.Unlock()

	if err := EnsureDir(n.layout.SessionDir(prefix)); err != nil {
		return "", err
	}
	return n.layout.ArtifactPath(prefix, index, role, ext), nil
}

func (n *Namer) prefixLocked() string {
	if n.prefix == "" {
		n.prefix = NewPrefix(n.now())
	}
	return n.prefix
}
