package export

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/zhouzirui/thoughtforge/backend/internal/model/conversation"
)

// Notes is the slice of the note service the exporter needs.
type Notes interface {
	ListNotebooks(ctx context.Context) ([]Notebook, error)
	CreateNotebook(ctx context.Context, name string) (Notebook, error)
	ListSections(ctx context.Context, notebookID string) ([]Section, error)
	CreateSection(ctx context.Context, notebookID, name string) (Section, error)
	CreatePage(ctx context.Context, sectionID, document string) (Page, error)
}

// Result of exporting one conversation.
type Result struct {
	ConversationID string `json:"conversationId"`
	PageID         string `json:"pageId"`
	WebURL         string `json:"webUrl,omitempty"`
}

// Progress is reported after every conversation of a bulk export.
type Progress struct {
	Done           int     `json:"done"`
	Total          int     `json:"total"`
	Fraction       float64 `json:"fraction"`
	ConversationID string  `json:"conversationId"`
	Error          string  `json:"error,omitempty"`
}

type Failure struct {
	ConversationID string `json:"conversationId"`
	Error          string `json:"error"`
}

// Summary aggregates the outcome of a bulk export.
type Summary struct {
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    []Failure `json:"failed"`
}

// Exporter writes conversations as pages into a fixed notebook/section.
type Exporter struct {
	notes    Notes
	notebook string
	section  string
}

func NewExporter(notes Notes, notebook, section string) *Exporter {
	return &Exporter{notes: notes, notebook: notebook, section: section}
}

// Export creates the notebook and section on first use and adds one page.
func (e *Exporter) Export(ctx context.Context, conv conversation.Conversation) (Result, error) {
	sectionID, err := e.resolveSection(ctx)
	if err != nil {
		return Result{}, err
	}
	return e.exportTo(ctx, sectionID, conv)
}

// ExportAll exports sequentially and keeps going past individual failures.
// An authentication failure aborts the run.
func (e *Exporter) ExportAll(ctx context.Context, convs []conversation.Conversation, progress func(Progress)) (Summary, error) {
	summary := Summary{Total: len(convs), Failed: []Failure{}}
	if len(convs) == 0 {
		return summary, nil
	}

	sectionID, err := e.resolveSection(ctx)
	if err != nil {
		return summary, err
	}

	for i, conv := range convs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		report := Progress{
			Done:           i + 1,
			Total:          len(convs),
			Fraction:       float64(i+1) / float64(len(convs)),
			ConversationID: conv.ID,
		}

		if _, err := e.exportTo(ctx, sectionID, conv); err != nil {
			if errors.Is(err, ErrNotAuthenticated) {
				return summary, err
			}
			log.Printf("[export] %s failed: %v", conv.ID, err)
			summary.Failed = append(summary.Failed, Failure{ConversationID: conv.ID, Error: err.Error()})
			report.Error = err.Error()
		} else {
			summary.Succeeded++
		}

		if progress != nil {
			progress(report)
		}
	}

	log.Printf("[export] exported %d/%d conversations", summary.Succeeded, summary.Total)
	return summary, nil
}

func (e *Exporter) exportTo(ctx context.Context, sectionID string, conv conversation.Conversation) (Result, error) {
	page, err := e.notes.CreatePage(ctx, sectionID, RenderConversation(conv))
	if err != nil {
		return Result{}, err
	}
	log.Printf("[export] %s -> page %s", conv.ID, page.ID)
	return Result{ConversationID: conv.ID, PageID: page.ID, WebURL: page.WebURL()}, nil
}

func (e *Exporter) resolveSection(ctx context.Context) (string, error) {
	notebooks, err := e.notes.ListNotebooks(ctx)
	if err != nil {
		return "", err
	}

	var notebookID string
	for _, nb := range notebooks {
		if nb.DisplayName == e.notebook {
			notebookID = nb.ID
			break
		}
	}
	if notebookID == "" {
		nb, err := e.notes.CreateNotebook(ctx, e.notebook)
		if err != nil {
			return "", fmt.Errorf("create notebook %q: %w", e.notebook, err)
		}
		log.Printf("[export] created notebook %q", e.notebook)
		notebookID = nb.ID
	}

	sections, err := e.notes.ListSections(ctx, notebookID)
	if err != nil {
		return "", err
	}
	for _, s := range sections {
		if s.DisplayName == e.section {
			return s.ID, nil
		}
	}

	section, err := e.notes.CreateSection(ctx, notebookID, e.section)
	if err != nil {
		return "", fmt.Errorf("create section %q: %w", e.section, err)
	}
	log.Printf("[export] created section %q", e.section)
	return section.ID, nil
}
