package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Thunsis/epub-translater/internal/fragment"
)

// TextFile loads and saves plain-text documents: fragments are
// blank-line-separated blocks, and blocks starting with '#' are treated
// as titles so the extractor can sample the document's structure.
type TextFile struct {
	InputPath  string
	OutputPath string
}

var (
	_ Loader = (*TextFile)(nil)
	_ Saver  = (*TextFile)(nil)
)

func (t *TextFile) Load(_ context.Context) ([]fragment.Fragment, error) {
	data, err := os.ReadFile(t.InputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	var fragments []fragment.Fragment
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		kind := fragment.Paragraph
		if strings.HasPrefix(block, "#") {
			kind = fragment.Title
		}
		fragments = append(fragments, fragment.Fragment{
			ID:   len(fragments),
			Text: block,
			Kind: kind,
		})
	}
	return fragments, nil
}

func (t *TextFile) Save(_ context.Context, translated []fragment.Translated) error {
	blocks := make([]string, len(translated))
	for i, f := range translated {
		blocks[i] = f.Text
	}
	out := strings.Join(blocks, "\n\n") + "\n"

	if dir := filepath.Dir(t.OutputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(t.OutputPath, []byte(out), 0o644); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	return nil
}
