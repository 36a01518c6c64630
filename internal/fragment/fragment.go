// Package fragment defines the unit of translatable text the engine works
// with. A document is an ordered sequence of fragments with stable integer
// IDs; the engine never looks inside the container format that produced them.
package fragment

// Kind classifies where in the document a fragment came from.
type Kind int

const (
	Paragraph Kind = iota
	Title
	Caption
	AltText
	Metadata
)

func (k Kind) String() string {
	switch k {
	case Paragraph:
		return "paragraph"
	case Title:
		return "title"
	case Caption:
		return "caption"
	case AltText:
		return "alt_text"
	case Metadata:
		return "metadata"
	}
	return "unknown"
}

// Fragment is a single translatable text unit. Fragments are created once
// when the document is loaded and never mutated; the ID is the fragment's
// position in the original document order.
type Fragment struct {
	ID   int
	Text string
	Kind Kind
}

// Protected is a fragment whose recognized terminology has been replaced
// with reversible sentinel markers. Text holds the marked form; the source
// fragment stays untouched.
type Protected struct {
	Fragment
}

// Translated is the result of translating (and restoring) one fragment.
// It carries the same ID as its source fragment so the final sequence can
// be reassembled by ID regardless of completion order.
type Translated struct {
	ID     int
	Text   string
	Source string
	Kind   Kind
	// Failed marks a fragment whose batch failed fatally; Text then holds
	// the configured fallback (source text or an explicit marker).
	Failed bool
}
