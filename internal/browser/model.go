package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zhouzirui/thoughtforge/backend/internal/model/conversation"
	"github.com/zhouzirui/thoughtforge/backend/internal/service/export"
)

// Source is the read side of the conversation store.
type Source interface {
	ListSessions(ctx context.Context) ([]conversation.Conversation, error)
	Load(ctx context.Context, id string) (conversation.Conversation, error)
	LoadArtifactNames(ctx context.Context, id string) ([]string, error)
}

type Exporter interface {
	Export(ctx context.Context, conv conversation.Conversation) (export.Result, error)
	ExportAll(ctx context.Context, convs []conversation.Conversation, progress func(export.Progress)) (export.Summary, error)
}

// Options configure a Model.
type Options struct {
	Source   Source
	Exporter Exporter
	Theme    string
	// LoginURL is shown when the note service rejects the stored token.
	LoginURL string
}

// Model is the root bubbletea model of the session browser. At most one
// session is expanded; its content and artifact names are loaded on demand.
type Model struct {
	ctx      context.Context
	source   Source
	exporter Exporter
	styles   Styles
	loginURL string

	sessions []conversation.Summary
	selected int
	loading  bool

	expanded string
	detail   *conversation.Conversation
	files    []string

	exporting  bool
	progress   float64
	progressCh chan tea.Msg

	status       string
	errorMessage string

	width  int
	height int
	scroll int
}

func New(ctx context.Context, opts Options) Model {
	return Model{
		ctx:      ctx,
		source:   opts.Source,
		exporter: opts.Exporter,
		styles:   NewStyles(opts.Theme),
		loginURL: opts.LoginURL,
		loading:  true,
		status:   "Loading sessions...",
	}
}

func (m Model) Init() tea.Cmd {
	return loadSessionsCmd(m.ctx, m.source)
}

func loadSessionsCmd(ctx context.Context, source Source) tea.Cmd {
	return func() tea.Msg {
		convs, err := source.ListSessions(ctx)
		if err != nil {
			return SessionsLoadedMsg{Err: err}
		}
		summaries := make([]conversation.Summary, 0, len(convs))
		for _, conv := range convs {
			summaries = append(summaries, conv.Summarize())
		}
		return SessionsLoadedMsg{Sessions: summaries}
	}
}

func loadDetailCmd(ctx context.Context, source Source, id string) tea.Cmd {
	return func() tea.Msg {
		conv, err := source.Load(ctx, id)
		if err != nil {
			return DetailLoadedMsg{ID: id, Err: err}
		}
		files, err := source.LoadArtifactNames(ctx, id)
		if err != nil {
			return DetailLoadedMsg{ID: id, Err: err}
		}
		return DetailLoadedMsg{ID: id, Conversation: conv, Files: files}
	}
}

func exportCmd(ctx context.Context, source Source, exporter Exporter, id string) tea.Cmd {
	return func() tea.Msg {
		conv, err := source.Load(ctx, id)
		if err != nil {
			return ExportDoneMsg{Err: err}
		}
		result, err := exporter.Export(ctx, conv)
		return ExportDoneMsg{Result: result, Err: err}
	}
}

// startExportAllCmd runs the bulk export in the background and delivers its
// progress through ch; the first message is returned by the command itself.
func startExportAllCmd(ctx context.Context, source Source, exporter Exporter, ch chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		go func() {
			defer close(ch)
			convs, err := source.ListSessions(ctx)
			if err != nil {
				ch <- ExportAllDoneMsg{Err: err}
				return
			}
			summary, err := exporter.ExportAll(ctx, convs, func(p export.Progress) {
				ch <- ExportProgressMsg{Progress: p}
			})
			ch <- ExportAllDoneMsg{Summary: summary, Err: err}
		}()
		return waitForExport(ch)()
	}
}

func waitForExport(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func clearStatusCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearStatusMsg{}
	})
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case SessionsLoadedMsg:
		m.loading = false
		if msg.Err != nil {
			m.errorMessage = msg.Err.Error()
			m.status = ""
			return m, nil
		}
		m.sessions = msg.Sessions
		if m.selected >= len(m.sessions) {
			m.selected = max(0, len(m.sessions)-1)
		}
		m.status = fmt.Sprintf("%d sessions", len(m.sessions))
		return m, nil

	case DetailLoadedMsg:
		if msg.ID != m.expanded {
			return m, nil
		}
		m.loading = false
		if msg.Err != nil {
			m.expanded = ""
			m.errorMessage = msg.Err.Error()
			return m, nil
		}
		conv := msg.Conversation
		m.detail = &conv
		m.files = msg.Files
		m.scroll = 0
		return m, nil

	case ExportDoneMsg:
		m.exporting = false
		if msg.Err != nil {
			m.errorMessage = m.exportError(msg.Err)
			return m, nil
		}
		m.status = "Exported " + msg.Result.ConversationID
		return m, clearStatusCmd()

	case ExportProgressMsg:
		m.progress = msg.Progress.Fraction
		m.status = fmt.Sprintf("Exporting %d/%d", msg.Progress.Done, msg.Progress.Total)
		return m, waitForExport(m.progressCh)

	case ExportAllDoneMsg:
		m.exporting = false
		m.progressCh = nil
		if msg.Err != nil {
			m.errorMessage = m.exportError(msg.Err)
			return m, nil
		}
		m.progress = 1
		m.status = fmt.Sprintf("Exported %d of %d sessions", msg.Summary.Succeeded, msg.Summary.Total)
		if n := len(msg.Summary.Failed); n > 0 {
			m.errorMessage = fmt.Sprintf("%d sessions failed, first: %s", n, msg.Summary.Failed[0].Error)
		}
		return m, nil

	case ClearStatusMsg:
		if !m.exporting {
			m.status = ""
		}
		return m, nil
	}

	return m, nil
}

func (m Model) exportError(err error) string {
	if errors.Is(err, export.ErrNotAuthenticated) && m.loginURL != "" {
		return "not signed in to OneNote, open " + m.loginURL
	}
	return err.Error()
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyCtrlC:
		return m, tea.Quit

	case KeyJ, KeyDown:
		if m.expanded != "" && m.detail != nil {
			m.scroll++
			return m, nil
		}
		if m.selected < len(m.sessions)-1 {
			m.selected++
		}
		return m, nil

	case KeyK, KeyUp:
		if m.expanded != "" && m.detail != nil {
			if m.scroll > 0 {
				m.scroll--
			}
			return m, nil
		}
		if m.selected > 0 {
			m.selected--
		}
		return m, nil

	case KeyEnter:
		if len(m.sessions) == 0 {
			return m, nil
		}
		id := m.sessions[m.selected].ID
		if m.expanded == id {
			m.collapse()
			return m, nil
		}
		m.collapse()
		m.expanded = id
		m.loading = true
		m.errorMessage = ""
		return m, loadDetailCmd(m.ctx, m.source, id)

	case KeyExport:
		if m.exporting || len(m.sessions) == 0 || m.exporter == nil {
			return m, nil
		}
		m.exporting = true
		m.errorMessage = ""
		m.status = "Exporting " + m.sessions[m.selected].ID
		return m, exportCmd(m.ctx, m.source, m.exporter, m.sessions[m.selected].ID)

	case KeyExportAll:
		if m.exporting || len(m.sessions) == 0 || m.exporter == nil {
			return m, nil
		}
		m.exporting = true
		m.progress = 0
		m.errorMessage = ""
		m.status = "Exporting all sessions"
		m.progressCh = make(chan tea.Msg, 1)
		return m, startExportAllCmd(m.ctx, m.source, m.exporter, m.progressCh)

	case KeyReload:
		m.loading = true
		m.collapse()
		return m, loadSessionsCmd(m.ctx, m.source)
	}

	return m, nil
}

func (m *Model) collapse() {
	m.expanded = ""
	m.detail = nil
	m.files = nil
	m.scroll = 0
}

func (m Model) contentWidth() int {
	if m.width == 0 {
		return 80
	}
	return m.width
}

func (m Model) visibleLines() int {
	if m.height == 0 {
		return 20
	}
	// header, status, two dividers, error, footer
	return max(5, m.height-6)
}

// View renders the full TUI.
func (m Model) View() string {
	var sections []string
	width := m.contentWidth()

	sections = append(sections, m.styles.Title.Render("THOUGHTFORGE")+m.styles.Dim.Render(" session browser"))
	sections = append(sections, m.renderStatus())
	sections = append(sections, m.styles.Divider.Render(strings.Repeat("─", width)))
	sections = append(sections, m.renderBody(width))
	sections = append(sections, m.styles.Divider.Render(strings.Repeat("─", width)))
	if m.errorMessage != "" {
		sections = append(sections, m.styles.Error.Render("Error: ")+m.errorMessage)
	}
	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderStatus() string {
	line := m.styles.Dim.Render(m.status)
	if m.exporting {
		line = renderProgressBar(m.styles, m.progress, 20) + " " + line
	}
	if m.loading {
		line += m.styles.Dim.Render(" …")
	}
	return line
}

func renderProgressBar(s Styles, fraction float64, width int) string {
	filled := int(fraction * float64(width))
	filled = min(max(filled, 0), width)
	return s.BarFill.Render(strings.Repeat("█", filled)) + s.BarEmpty.Render(strings.Repeat("░", width-filled))
}

func (m Model) renderBody(width int) string {
	height := m.visibleLines()
	var lines []string

	if len(m.sessions) == 0 && !m.loading {
		lines = append(lines, m.styles.Dim.Render("  No sessions recorded yet"))
	}

	for i, session := range m.sessions {
		marker := "▸"
		if session.ID == m.expanded {
			marker = "▾"
		}
		label := fmt.Sprintf("%s %s  %s  (%d turns)", marker, session.StartTime.Local().Format("2006-01-02 15:04"), titleOf(session), session.TurnCount)
		if i == m.selected {
			lines = append(lines, m.styles.Selected.Render("> "+truncate(label, width-2)))
		} else {
			lines = append(lines, "  "+truncate(label, width-2))
		}

		if session.ID == m.expanded {
			lines = append(lines, m.renderDetail(width)...)
		}
	}

	if len(lines) > height {
		start := m.windowStart(len(lines), height)
		lines = lines[start : start+height]
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

// windowStart keeps the selected row, or the scrolled detail, on screen.
func (m Model) windowStart(total, height int) int {
	start := max(0, m.selected-height/2)
	if m.expanded != "" {
		start = m.selected + m.scroll
	}
	return min(start, total-height)
}

func (m Model) renderDetail(width int) []string {
	if m.detail == nil {
		return []string{m.styles.Dim.Render("    loading…")}
	}

	var lines []string
	wrapWidth := max(10, width-8)
	for _, turn := range m.detail.Turns {
		label := m.styles.Assistant.Render("    AI")
		if turn.Role == conversation.RoleUser {
			label = m.styles.User.Render("    You")
		}
		lines = append(lines, label+m.styles.Dim.Render("  "+turn.Timestamp.Local().Format("15:04:05")))
		for _, wl := range wrapText(turn.Content, wrapWidth) {
			lines = append(lines, "      "+wl)
		}
	}

	lines = append(lines, m.styles.Dim.Render(fmt.Sprintf("    files (%d)", len(m.files))))
	for _, name := range m.files {
		lines = append(lines, m.styles.Dim.Render("      "+truncate(name, width-6)))
	}
	return lines
}

func (m Model) renderFooter() string {
	parts := []string{
		m.styles.FooterKey.Render("j/k") + m.styles.Footer.Render(" Nav"),
		m.styles.FooterKey.Render("Enter") + m.styles.Footer.Render(" Expand"),
	}
	if m.exporter != nil {
		parts = append(parts,
			m.styles.FooterKey.Render("e")+m.styles.Footer.Render(" Export"),
			m.styles.FooterKey.Render("E")+m.styles.Footer.Render(" Export all"),
		)
	}
	parts = append(parts,
		m.styles.FooterKey.Render("r")+m.styles.Footer.Render(" Reload"),
		m.styles.FooterKey.Render("q")+m.styles.Footer.Render(" Quit"),
	)
	return strings.Join(parts, "  ")
}

// Helpers

func titleOf(s conversation.Summary) string {
	if s.Subject != "" {
		return s.Subject
	}
	return s.ID
}

func truncate(s string, width int) string {
	if width <= 1 || lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	if len(runes) > width-1 {
		return string(runes[:width-1]) + "…"
	}
	return s
}

func wrapText(text string, width int) []string {
	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		var current string
		for _, word := range strings.Fields(paragraph) {
			switch {
			case current == "":
				current = word
			case len([]rune(current))+1+len([]rune(word)) <= width:
				current += " " + word
			default:
				lines = append(lines, current)
				current = word
			}
		}
		lines = append(lines, current)
	}
	return lines
}
