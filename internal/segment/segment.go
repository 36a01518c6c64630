// Package segment wraps the sentence-boundary collaborator. The engine
// only needs sentence spans to avoid cutting requests mid-sentence; any
// external segmentation service can be plugged in through Splitter, and a
// heuristic splitter is always available as a fallback.
package segment

import (
	"strings"
	"unicode"
)

// Span is a half-open byte range [Start, End) of one sentence within the
// text it was split from.
type Span struct {
	Start int
	End   int
}

// Splitter produces ordered sentence spans for a text. Implementations may
// call out to an external segmentation service and fail; callers fall back
// to fixed-length splitting via Chunk.
type Splitter interface {
	Split(text string) ([]Span, error)
}

// Naive is the built-in heuristic splitter: a sentence ends at '.', '!',
// '?' or their CJK equivalents followed by whitespace or end of text.
type Naive struct{}

func (Naive) Split(text string) ([]Span, error) {
	var spans []Span
	start := 0

	type pos struct {
		r      rune
		offset int // byte offset of r in text
		width  int
	}
	var prev pos
	havePrev := false

	flush := func(end int) {
		if strings.TrimSpace(text[start:end]) != "" {
			spans = append(spans, Span{Start: start, End: end})
		}
		start = end
	}

	for offset, r := range text {
		if havePrev && isSentenceEnd(prev.r) && unicode.IsSpace(r) {
			flush(prev.offset + prev.width)
		}
		prev = pos{r: r, offset: offset, width: len(string(r))}
		havePrev = true
	}
	flush(len(text))
	return spans, nil
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

// Chunk splits text into pieces of at most maxChars runes each. Split
// points are chosen, in order of preference, at paragraph boundaries,
// sentence boundaries reported by s, whitespace, and finally a hard cut.
// With maxChars <= 0 or text already within budget, the whole text is
// returned as a single chunk. A nil or failing splitter degrades to the
// whitespace/hard-cut path, never to an error.
func Chunk(text string, maxChars int, s Splitter) []string {
	if maxChars <= 0 || len([]rune(text)) <= maxChars {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len([]rune(remaining)) > maxChars {
		split := findSplit(remaining, maxChars, s)
		chunk := strings.TrimSpace(remaining[:split])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = strings.TrimSpace(remaining[split:])
	}
	if strings.TrimSpace(remaining) != "" {
		chunks = append(chunks, strings.TrimSpace(remaining))
	}
	return chunks
}

// findSplit returns the byte index at which to split text so the consumed
// part holds at most maxChars runes.
func findSplit(text string, maxChars int, s Splitter) int {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return len(text)
	}
	candidate := string(runes[:maxChars])

	// 1. Paragraph boundary, searched backwards.
	if idx := strings.LastIndex(candidate, "\n\n"); idx > 0 {
		return idx + 2
	}
	if idx := strings.LastIndex(candidate, "\r\n\r\n"); idx > 0 {
		return idx + 4
	}

	// 2. Last sentence boundary within the candidate.
	if s != nil {
		if spans, err := s.Split(candidate); err == nil && len(spans) > 1 {
			return spans[len(spans)-1].Start
		}
	}

	// 3. Whitespace word boundary.
	for i := len(runes[:maxChars]) - 1; i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return len(string(runes[:i]))
		}
	}

	// 4. Hard cut.
	return len(candidate)
}
