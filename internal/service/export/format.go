package export

import (
	"bytes"
	"fmt"
	"html"
	"log"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/zhouzirui/thoughtforge/backend/internal/model/conversation"
)

const (
	headingUser      = "💬 You"
	headingAssistant = "🤖 AI"
	blockSeparator   = "<br /><br />"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
)

// FormatHTML renders turns into a page titled with subject.
func FormatHTML(turns []conversation.Turn, subject string) string {
	return PageDocument(subject, time.Time{}, FormatBody(turns))
}

// FormatBody renders turns as role-labelled blocks in chronological order.
// Turn content is treated as Markdown.
func FormatBody(turns []conversation.Turn) string {
	var out, block bytes.Buffer
	for _, turn := range turns {
		heading := headingAssistant
		if turn.Role == conversation.RoleUser {
			heading = headingUser
		}
		fmt.Fprintf(&out, "<h2>%s</h2>", heading)

		block.Reset()
		if err := markdown.Convert([]byte(turn.Content), &block); err != nil {
			log.Printf("[export] markdown conversion of %s failed, using plain text: %v", turn.ID, err)
			fmt.Fprintf(&out, "<p>%s</p>", html.EscapeString(turn.Content))
		} else {
			out.Write(block.Bytes())
		}
		out.WriteString(blockSeparator)
	}
	return out.String()
}

// PageDocument wraps a body in the XHTML document OneNote expects.
func PageDocument(title string, created time.Time, body string) string {
	meta := ""
	if !created.IsZero() {
		meta = fmt.Sprintf("\n    <meta name=\"created\" content=\"%s\" />", created.Format(time.RFC3339))
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
  <head>
    <title>%s</title>%s
  </head>
  <body>%s</body>
</html>`, html.EscapeString(title), meta, body)
}

// RenderConversation builds the full page of one conversation; the subject
// is the title, with the identifier as fallback.
func RenderConversation(conv conversation.Conversation) string {
	return PageDocument(conv.Title(), conv.StartTime, FormatBody(conv.Turns))
}
