// Package document is the container-format boundary. The engine only ever
// sees an ordered fragment sequence; parsing and writing the container
// (EPUB archive, markup, embedded assets) happens behind Loader and Saver.
package document

import (
	"context"

	"github.com/Thunsis/epub-translater/internal/fragment"
)

// Loader produces the document's ordered fragment sequence.
type Loader interface {
	Load(ctx context.Context) ([]fragment.Fragment, error)
}

// Saver writes the translated sequence back out as a document.
type Saver interface {
	Save(ctx context.Context, translated []fragment.Translated) error
}
