// Package batch groups protected fragments into request-sized batches
// under character and token budgets. A fragment is the unit of translation:
// it is never split across batches, so sentence-level translation quality
// is preserved even for oversized fragments.
package batch

import (
	"unicode"

	"github.com/Thunsis/epub-translater/internal/fragment"
)

// charsPerToken is the rough character-to-token ratio observed for the
// provider on Latin-script text. CJK text runs close to one token per rune
// and is counted separately.
const charsPerToken = 5

// Batch is a budget-bounded ordered group of fragments sent together in a
// single API request.
type Batch struct {
	ID        int
	Fragments []fragment.Protected
	Chars     int
	Tokens    int
}

// EstimateTokens approximates the provider token count for a text.
func EstimateTokens(text string) int {
	latin := 0
	tokens := 0
	for _, r := range text {
		if isCJK(r) {
			tokens++
		} else {
			latin++
		}
	}
	tokens += (latin + charsPerToken - 1) / charsPerToken
	return tokens
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// Assemble bin-packs fragments into batches greedily, in original order:
// a fragment joins the current batch while both budgets hold, otherwise it
// opens a new batch. A single fragment exceeding a budget on its own forms
// a one-fragment batch — oversized content is never dropped. Budgets that
// are <= 0 are unlimited.
func Assemble(fragments []fragment.Protected, maxChars, maxTokens int) []Batch {
	var batches []Batch
	var cur Batch

	flush := func() {
		if len(cur.Fragments) > 0 {
			cur.ID = len(batches)
			batches = append(batches, cur)
			cur = Batch{}
		}
	}

	for _, f := range fragments {
		chars := len([]rune(f.Text))
		tokens := EstimateTokens(f.Text)

		overChars := maxChars > 0 && cur.Chars+chars > maxChars
		overTokens := maxTokens > 0 && cur.Tokens+tokens > maxTokens
		if len(cur.Fragments) > 0 && (overChars || overTokens) {
			flush()
		}
		cur.Fragments = append(cur.Fragments, f)
		cur.Chars += chars
		cur.Tokens += tokens

		// An oversized fragment travels alone.
		aloneOverChars := maxChars > 0 && chars > maxChars
		aloneOverTokens := maxTokens > 0 && tokens > maxTokens
		if aloneOverChars || aloneOverTokens {
			flush()
		}
	}
	flush()
	return batches
}
