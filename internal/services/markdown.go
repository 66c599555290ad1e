package services

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Markdown renders message text to HTML. Fenced code blocks are syntax highlighted; raw HTML in the
// text is escaped.
type Markdown struct {
	md goldmark.Markdown
}

// DefaultHighlightStyle is the chroma style used when none is configured.
const DefaultHighlightStyle = "github"

// NewMarkdown creates a Markdown renderer that highlights code with the named chroma style.
func NewMarkdown(style string) Markdown {
	if style == "" {
		style = DefaultHighlightStyle
	}
	return Markdown{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(highlighting.WithStyle(style)),
			),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
	}
}

// Render converts markdown text to HTML. Partial markdown, such as an unterminated code fence in a
// reply still streaming, renders as far as it parses.
func (m Markdown) Render(text string) (string, error) {
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("error rendering markdown: %w", err)
	}
	return buf.String(), nil
}
