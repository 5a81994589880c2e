package browser

import (
	"github.com/zhouzirui/thoughtforge/backend/internal/model/conversation"
	"github.com/zhouzirui/thoughtforge/backend/internal/service/export"
)

// SessionsLoadedMsg carries the session listing.
type SessionsLoadedMsg struct {
	Sessions []conversation.Summary
	Err      error
}

// DetailLoadedMsg carries the lazily loaded content of one session.
type DetailLoadedMsg struct {
	ID           string
	Conversation conversation.Conversation
	Files        []string
	Err          error
}

type ExportDoneMsg struct {
	Result export.Result
	Err    error
}

// ExportProgressMsg is emitted after each session of a bulk export.
type ExportProgressMsg struct {
	Progress export.Progress
}

type ExportAllDoneMsg struct {
	Summary export.Summary
	Err     error
}

// ClearStatusMsg clears a transient status line.
type ClearStatusMsg struct{}
