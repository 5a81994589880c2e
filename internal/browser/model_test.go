package browser

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zhouzirui/thoughtforge/backend/internal/model/conversation"
	"github.com/zhouzirui/thoughtforge/backend/internal/service/export"
)

type fakeSource struct {
	convs []conversation.Conversation
	files map[string][]string
	loads int
}

func (f *fakeSource) ListSessions(context.Context) ([]conversation.Conversation, error) {
	return f.convs, nil
}

func (f *fakeSource) Load(_ context.Context, id string) (conversation.Conversation, error) {
	f.loads++
	for _, c := range f.convs {
		if c.ID == id {
			return c, nil
		}
	}
	return conversation.Conversation{}, errors.New("not found")
}

func (f *fakeSource) LoadArtifactNames(_ context.Context, id string) ([]string, error) {
	return f.files[id], nil
}

type fakeExporter struct {
	err error
}

func (f fakeExporter) Export(_ context.Context, conv conversation.Conversation) (export.Result, error) {
	if f.err != nil {
		return export.Result{}, f.err
	}
	return export.Result{ConversationID: conv.ID, PageID: "p"}, nil
}

func (f fakeExporter) ExportAll(_ context.Context, convs []conversation.Conversation, progress func(export.Progress)) (export.Summary, error) {
	for i, c := range convs {
		progress(export.Progress{Done: i + 1, Total: len(convs), Fraction: float64(i+1) / float64(len(convs)), ConversationID: c.ID})
	}
	return export.Summary{Total: len(convs), Succeeded: len(convs)}, f.err
}

func testSource() *fakeSource {
	start := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	return &fakeSource{
		convs: []conversation.Conversation{
			{ID: "b", StartTime: start.Add(time.Hour), Subject: "Garden ideas", Turns: []conversation.Turn{
				{ID: "1", Role: conversation.RoleUser, Content: "Raised beds?"},
				{ID: "2", Role: conversation.RoleAssistant, Content: "Try cedar."},
			}},
			{ID: "a", StartTime: start},
		},
		files: map[string][]string{"b": {"b.json", "1.mp4", "1.txt"}},
	}
}

func newTestModel(src *fakeSource, exp Exporter) Model {
	m := New(context.Background(), Options{Source: src, Exporter: exp, LoginURL: "http://localhost:8080/api/export/auth/login"})
	m.width = 80
	m.height = 24
	return m
}

func loaded(t *testing.T, m Model) Model {
	t.Helper()
	msg := m.Init()()
	updated, _ := m.Update(msg)
	return updated.(Model)
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestSessionsLoad(t *testing.T) {
	m := loaded(t, newTestModel(testSource(), nil))

	if m.loading {
		t.Error("should not be loading after sessions arrive")
	}
	if len(m.sessions) != 2 || m.sessions[0].TurnCount != 2 {
		t.Fatalf("unexpected sessions %+v", m.sessions)
	}
	view := m.View()
	if !strings.Contains(view, "Garden ideas") || !strings.Contains(view, "(2 turns)") {
		t.Errorf("view should list sessions, got:\n%s", view)
	}
	if strings.Contains(view, "Export all") {
		t.Error("export keys should be hidden without an exporter")
	}
}

func TestEnterLoadsDetailLazily(t *testing.T) {
	src := testSource()
	m := loaded(t, newTestModel(src, nil))
	if src.loads != 0 {
		t.Fatalf("listing must not load session content, loads=%d", src.loads)
	}

	updated, cmd := m.Update(key("enter"))
	m = updated.(Model)
	if m.expanded != "b" || cmd == nil {
		t.Fatalf("expected detail load for b, expanded=%q", m.expanded)
	}
	updated, _ = m.Update(cmd())
	m = updated.(Model)

	if m.detail == nil || len(m.files) != 3 {
		t.Fatalf("expected detail with files, got %+v %v", m.detail, m.files)
	}
	view := m.View()
	if !strings.Contains(view, "Try cedar.") || !strings.Contains(view, "1.mp4") {
		t.Errorf("expanded view should show turns and files, got:\n%s", view)
	}

	updated, _ = m.Update(key("enter"))
	m = updated.(Model)
	if m.expanded != "" || m.detail != nil {
		t.Error("second enter should collapse the session")
	}
}

func TestStaleDetailIsIgnored(t *testing.T) {
	m := loaded(t, newTestModel(testSource(), nil))
	m.expanded = "a"

	updated, _ := m.Update(DetailLoadedMsg{ID: "b", Conversation: conversation.Conversation{ID: "b"}})
	if updated.(Model).detail != nil {
		t.Error("detail for a different session must be dropped")
	}
}

func TestNavigationStaysInBounds(t *testing.T) {
	m := loaded(t, newTestModel(testSource(), nil))

	for i := 0; i < 5; i++ {
		updated, _ := m.Update(key("j"))
		m = updated.(Model)
	}
	if m.selected != 1 {
		t.Errorf("selected = %d, want 1", m.selected)
	}
	updated, _ := m.Update(key("k"))
	if updated.(Model).selected != 0 {
		t.Error("k should move up")
	}
}

func TestExportSelected(t *testing.T) {
	m := loaded(t, newTestModel(testSource(), fakeExporter{}))

	updated, cmd := m.Update(key("e"))
	m = updated.(Model)
	if !m.exporting || cmd == nil {
		t.Fatal("e should start an export")
	}
	updated, _ = m.Update(cmd())
	m = updated.(Model)

	if m.exporting {
		t.Error("export should be finished")
	}
	if m.status != "Exported b" {
		t.Errorf("status = %q", m.status)
	}
}

func TestExportNotAuthenticatedShowsLoginHint(t *testing.T) {
	m := loaded(t, newTestModel(testSource(), fakeExporter{err: export.ErrNotAuthenticated}))

	updated, cmd := m.Update(key("e"))
	updated, _ = updated.(Model).Update(cmd())
	m = updated.(Model)

	if !strings.Contains(m.errorMessage, "/api/export/auth/login") {
		t.Errorf("expected login hint, got %q", m.errorMessage)
	}
}

func TestExportAllReportsProgress(t *testing.T) {
	m := loaded(t, newTestModel(testSource(), fakeExporter{}))

	updated, cmd := m.Update(key("E"))
	m = updated.(Model)
	if !m.exporting {
		t.Fatal("E should start a bulk export")
	}

	var fractions []float64
	for msg := cmd(); msg != nil; {
		updated, cmd = m.Update(msg)
		m = updated.(Model)
		if p, ok := msg.(ExportProgressMsg); ok {
			fractions = append(fractions, p.Progress.Fraction)
			msg = cmd()
			continue
		}
		break
	}

	if len(fractions) != 2 || fractions[1] != 1 {
		t.Errorf("expected two progress updates, got %v", fractions)
	}
	if m.exporting {
		t.Error("bulk export should be finished")
	}
	if m.status != "Exported 2 of 2 sessions" {
		t.Errorf("status = %q", m.status)
	}
}

func TestQuit(t *testing.T) {
	m := newTestModel(testSource(), nil)
	for _, k := range []string{"q", "ctrl+c"} {
		_, cmd := m.Update(key(k))
		if cmd == nil {
			t.Fatalf("%s should quit", k)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%s should return tea.Quit", k)
		}
	}
}

func TestWrapText(t *testing.T) {
	lines := wrapText("one two three four", 10)
	if len(lines) != 2 || lines[0] != "one two" || lines[1] != "three four" {
		t.Errorf("unexpected wrap %q", lines)
	}
}
