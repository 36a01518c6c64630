package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Thunsis/epub-translater/internal/fragment"
)

// Markdown loads and saves markdown documents while keeping the markup the
// engine must not touch out of the fragment stream: fenced code blocks
// stay verbatim, heading markers and image URLs are carried in a skeleton
// that Save reassembles around the translated text.
type Markdown struct {
	InputPath  string
	OutputPath string

	// skeleton is built by Load and consumed by Save; the two always run
	// on the same instance within one pipeline run.
	skeleton []mdSegment
}

var (
	_ Loader = (*Markdown)(nil)
	_ Saver  = (*Markdown)(nil)
)

// mdSegment is one block of the source document. A fragID >= 0 points at
// the fragment whose translation Save wraps with prefix and suffix; a
// negative fragID means static is emitted verbatim.
type mdSegment struct {
	fragID int
	prefix string
	suffix string
	static string
}

var (
	headingRe   = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	imageOnlyRe = regexp.MustCompile(`^!\[([^\]]*)\]\(([^)]+)\)$`)
)

func (m *Markdown) Load(_ context.Context) ([]fragment.Fragment, error) {
	data, err := os.ReadFile(m.InputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	m.skeleton = nil

	var fragments []fragment.Fragment
	addFragment := func(text string, kind fragment.Kind, prefix, suffix string) {
		m.skeleton = append(m.skeleton, mdSegment{
			fragID: len(fragments),
			prefix: prefix,
			suffix: suffix,
		})
		fragments = append(fragments, fragment.Fragment{
			ID:   len(fragments),
			Text: text,
			Kind: kind,
		})
	}

	var para []string
	flushPara := func() {
		if len(para) == 0 {
			return
		}
		addFragment(strings.Join(para, "\n"), fragment.Paragraph, "", "")
		para = nil
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			flushPara()

		case strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~"):
			flushPara()
			fence := trimmed[:3]
			block := []string{line}
			for i++; i < len(lines); i++ {
				block = append(block, lines[i])
				if strings.HasPrefix(strings.TrimSpace(lines[i]), fence) {
					break
				}
			}
			m.skeleton = append(m.skeleton, mdSegment{fragID: -1, static: strings.Join(block, "\n")})

		case headingRe.MatchString(trimmed):
			flushPara()
			parts := headingRe.FindStringSubmatch(trimmed)
			addFragment(parts[2], fragment.Title, parts[1]+" ", "")

		case imageOnlyRe.MatchString(trimmed):
			flushPara()
			parts := imageOnlyRe.FindStringSubmatch(trimmed)
			if parts[1] == "" {
				// No alt text to translate; keep the image verbatim.
				m.skeleton = append(m.skeleton, mdSegment{fragID: -1, static: trimmed})
				continue
			}
			addFragment(parts[1], fragment.AltText, "![", "]("+parts[2]+")")

		default:
			para = append(para, line)
		}
	}
	flushPara()

	return fragments, nil
}

func (m *Markdown) Save(_ context.Context, translated []fragment.Translated) error {
	byID := make(map[int]fragment.Translated, len(translated))
	for _, f := range translated {
		byID[f.ID] = f
	}

	blocks := make([]string, 0, len(m.skeleton))
	for _, seg := range m.skeleton {
		if seg.fragID < 0 {
			blocks = append(blocks, seg.static)
			continue
		}
		f, ok := byID[seg.fragID]
		if !ok {
			return fmt.Errorf("no translation for fragment %d", seg.fragID)
		}
		blocks = append(blocks, seg.prefix+f.Text+seg.suffix)
	}
	out := strings.Join(blocks, "\n\n") + "\n"

	if dir := filepath.Dir(m.OutputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(m.OutputPath, []byte(out), 0o644); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	return nil
}
