// Package terms holds the protected-terminology table and the sentinel
// scheme that shields terms from the translation API.
//
// Protect replaces every recognized term occurrence with a marker of the
// form ⟦TERM:surface⟧ that embeds the exact original surface text, so
// Restore can reproduce it byte for byte. The white corner brackets were
// chosen because they survive LLM output untouched and do not occur in
// ordinary document text.
package terms

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// Sentinel delimiters: U+27E6 / U+27E7 mathematical white square brackets.
const (
	sentinelOpen  = "⟦TERM:"
	sentinelClose = "⟧"
)

// escapedOpen neutralizes a sentinel opener that already exists in the
// source text: a word joiner is inserted so the restore pattern cannot
// match it, and Restore strips the joiner again.
const escapedOpen = "⟦TERM⁠:"

var (
	restoreRe = regexp.MustCompile(`⟦TERM:([^⟦⟧]*)⟧`)
	// orphanRe matches a sentinel opener whose closing bracket was lost by
	// an upstream text transformation.
	orphanRe = regexp.MustCompile(`⟦TERM:`)

	// The escape is a counter, not a flag: Protect adds one word joiner
	// to any opener-like run and Restore removes one, so source text that
	// already carries joiners (including a previously escaped opener)
	// round-trips too.
	escapeRe   = regexp.MustCompile("⟦TERM(⁠*):")
	unescapeRe = regexp.MustCompile("⟦TERM⁠(⁠*):")
)

// ErrFrozen is returned by Add after Freeze has been called.
var ErrFrozen = errors.New("terms: table is frozen")

// Term is a single terminology entry. A term with an empty Translation is
// preserved untranslated via sentinel protection; a term with a pinned
// Translation is instead surfaced to the API as glossary guidance, since
// its occurrences must be rendered in the target language.
type Term struct {
	Surface     string
	Normalized  string
	Translation string
	Frequency   int
	FirstSeen   int // fragment ID of first occurrence, -1 when unknown
	UserTerm    bool
}

// Table owns the set of protected terms. It is built during extraction,
// optionally merged with user-supplied terms, and must be frozen before
// protection begins; a frozen table is safe for concurrent readers.
type Table struct {
	caseInsensitive bool
	terms           map[string]Term // keyed by normalized form
	frozen          bool

	// compiled on Freeze
	pattern *regexp.Regexp
	version string
}

// New returns an empty table. When caseInsensitive is set, terms match
// regardless of letter case and normalized forms are case-folded.
func New(caseInsensitive bool) *Table {
	return &Table{
		caseInsensitive: caseInsensitive,
		terms:           make(map[string]Term),
	}
}

// Normalize returns the table's canonical key for a surface form.
func (t *Table) Normalize(surface string) string {
	s := strings.TrimSpace(surface)
	if t.caseInsensitive {
		s = cases.Fold().String(s)
	}
	return s
}

// Add inserts or updates a term. Frequencies of duplicate surface forms are
// summed; the earliest FirstSeen wins. Adding to a frozen table is an error.
func (t *Table) Add(term Term) error {
	if t.frozen {
		return ErrFrozen
	}
	term.Surface = strings.TrimSpace(term.Surface)
	if term.Surface == "" {
		return nil
	}
	if term.Normalized == "" {
		term.Normalized = t.Normalize(term.Surface)
	}
	if prev, ok := t.terms[term.Normalized]; ok {
		// User terms always win over extracted ones.
		if prev.UserTerm && !term.UserTerm {
			return nil
		}
		term.Frequency += prev.Frequency
		if prev.FirstSeen >= 0 && (term.FirstSeen < 0 || prev.FirstSeen < term.FirstSeen) {
			term.FirstSeen = prev.FirstSeen
		}
	}
	t.terms[term.Normalized] = term
	return nil
}

// Merge combines user-supplied terms into the table. User terms take
// precedence over auto-extracted terms with the same normalized form.
func (t *Table) Merge(custom []Term) error {
	for _, term := range custom {
		term.UserTerm = true
		if term.FirstSeen == 0 {
			term.FirstSeen = -1
		}
		delete(t.terms, t.Normalize(term.Surface))
		if err := t.Add(term); err != nil {
			return err
		}
	}
	return nil
}

// Len reports the number of terms in the table.
func (t *Table) Len() int { return len(t.terms) }

// Terms returns the table's terms sorted by normalized form.
func (t *Table) Terms() []Term {
	out := make([]Term, 0, len(t.terms))
	for _, term := range t.terms {
		out = append(out, term)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Normalized < out[j].Normalized })
	return out
}

// Freeze compiles the protection pattern and the version fingerprint and
// prohibits further Add calls. A table is frozen exactly once, before the
// first Protect; a term added mid-translation would invalidate batches that
// were already cached or dispatched.
func (t *Table) Freeze() {
	if t.frozen {
		return
	}
	t.frozen = true
	t.pattern = t.compilePattern()
	t.version = t.fingerprint()
}

// Frozen reports whether Freeze has been called.
func (t *Table) Frozen() bool { return t.frozen }

// Version is a deterministic fingerprint of the frozen term set. It feeds
// the response-cache key so a translation produced under a different
// protection scheme is never served.
func (t *Table) Version() string {
	if !t.frozen {
		return t.fingerprint()
	}
	return t.version
}

func (t *Table) fingerprint() string {
	h := sha256.New()
	if t.caseInsensitive {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	for _, term := range t.Terms() {
		h.Write([]byte(term.Normalized))
		h.Write([]byte{0})
		h.Write([]byte(term.Surface))
		h.Write([]byte{0})
		h.Write([]byte(term.Translation))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// compilePattern builds one alternation over all surface forms, longest
// first so multi-word terms win over their prefixes in a single pass.
func (t *Table) compilePattern() *regexp.Regexp {
	if len(t.terms) == 0 {
		return nil
	}
	surfaces := make([]string, 0, len(t.terms))
	for _, term := range t.terms {
		if term.Translation != "" {
			continue // pinned translations go into the prompt glossary instead
		}
		surfaces = append(surfaces, term.Surface)
	}
	if len(surfaces) == 0 {
		return nil
	}
	sort.Slice(surfaces, func(i, j int) bool {
		if len(surfaces[i]) != len(surfaces[j]) {
			return len(surfaces[i]) > len(surfaces[j])
		}
		return surfaces[i] < surfaces[j]
	})

	alts := make([]string, len(surfaces))
	for i, s := range surfaces {
		alts[i] = regexp.QuoteMeta(s)
	}
	expr := "(?:" + strings.Join(alts, "|") + ")"
	if t.caseInsensitive {
		expr = "(?i)" + expr
	}
	return regexp.MustCompile(expr)
}

// isWordRune reports whether r extends a word. CJK scripts are excluded:
// they carry no word delimiters, so a CJK rune next to a match must not
// veto it.
func isWordRune(r rune) bool {
	if r == '_' {
		return true
	}
	if isCJK(r) {
		return false
	}
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// boundaryOK rejects a match glued to surrounding word runes. The check is
// done per match rather than with \b in the pattern: RE2's \b is
// ASCII-only and silently never asserts next to runes like é or 学.
func boundaryOK(text string, start, end int) bool {
	first, _ := utf8.DecodeRuneInString(text[start:end])
	last, _ := utf8.DecodeLastRuneInString(text[start:end])
	if isWordRune(first) && start > 0 {
		if prev, _ := utf8.DecodeLastRuneInString(text[:start]); isWordRune(prev) {
			return false
		}
	}
	if isWordRune(last) && end < len(text) {
		if next, _ := utf8.DecodeRuneInString(text[end:]); isWordRune(next) {
			return false
		}
	}
	return true
}

// Protect replaces every known-term occurrence in f's text with a sentinel
// embedding the matched surface text. The table must be frozen first.
func (t *Table) Protect(text string) string {
	if !t.frozen {
		panic("terms: Protect called before Freeze")
	}
	text = escapeRe.ReplaceAllString(text, "⟦TERM⁠$1:")
	if t.pattern == nil {
		return text
	}
	locs := t.pattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, loc := range locs {
		if !boundaryOK(text, loc[0], loc[1]) {
			continue
		}
		b.WriteString(text[last:loc[0]])
		b.WriteString(sentinelOpen)
		b.WriteString(text[loc[0]:loc[1]])
		b.WriteString(sentinelClose)
		last = loc[1]
	}
	b.WriteString(text[last:])
	return b.String()
}

// IntegrityError records a malformed sentinel found during Restore. It is
// logged by the caller, never fatal: the output keeps the recoverable inner
// text with the broken wrapper stripped.
type IntegrityError struct {
	Snippet string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("terms: malformed sentinel near %q", e.Snippet)
}

// Restore reverses every sentinel in text, reproducing the exact surface
// forms Protect captured. Malformed sentinels (truncated by an upstream
// text transformation) are unwrapped best-effort and reported as
// IntegrityErrors; output validity always wins over exactness.
func (t *Table) Restore(text string) (string, []error) {
	restored := restoreRe.ReplaceAllString(text, "$1")

	var errs []error
	if strings.Contains(restored, sentinelOpen) {
		for _, loc := range orphanRe.FindAllStringIndex(restored, -1) {
			end := loc[1] + 24
			if end > len(restored) {
				end = len(restored)
			}
			errs = append(errs, &IntegrityError{Snippet: restored[loc[0]:end]})
		}
		restored = orphanRe.ReplaceAllString(restored, "")
	}
	// A stray closing bracket with no opener is left alone: it may be
	// legitimate document text.
	restored = unescapeRe.ReplaceAllString(restored, "⟦TERM$1:")
	return restored, errs
}

// Glossary returns the surface → pinned-translation pairs, ready to embed
// in a translation prompt. Terms without a translation are not included;
// those are handled by sentinel protection.
func (t *Table) Glossary() map[string]string {
	out := make(map[string]string)
	for _, term := range t.terms {
		if term.Translation != "" {
			out[term.Surface] = term.Translation
		}
	}
	return out
}

// InstructionHint returns the sentence appended to translation prompts so
// the model leaves sentinels intact.
func InstructionHint() string {
	return "Preserve all ⟦TERM:…⟧ markers exactly as they appear, including their contents — do not translate, reorder, or remove them."
}
