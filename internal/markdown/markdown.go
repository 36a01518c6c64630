// Package markdown flattens marked-up text to plain prose. Terminology
// extraction samples document text through Flatten so markup syntax never
// leaks into extracted terms.
package markdown

import (
	"html"
	"strings"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

func toHTML(md []byte) string {
	// Smartypants stays off: a sample with typographic quotes or dashes
	// substituted in no longer matches the document text.
	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.UseXHTML})
	p := parser.NewWithExtensions(parser.CommonExtensions)
	return string(markdown.Render(p.Parse(md), renderer))
}

// Flatten renders md and strips the markup, leaving only the prose.
// Plain text passes through unchanged apart from whitespace normalization
// at block boundaries.
func Flatten(md string) string {
	return strings.TrimSpace(html.UnescapeString(stripTags(toHTML([]byte(md)))))
}

func stripTags(htmlContent string) string {
	var b strings.Builder
	b.Grow(len(htmlContent))
	inTag := false
	for _, ch := range htmlContent {
		switch ch {
		case '<':
			inTag = true
		case '>':
			inTag = false
		default:
			if !inTag {
				b.WriteRune(ch)
			}
		}
	}
	return b.String()
}
