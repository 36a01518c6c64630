// Package extractor builds the protected-terminology table by sending a
// structural sample of the document (headings, metadata, representative
// passages) to the translation API for analysis. Terminology is an
// optimization, not a correctness requirement: extraction failures degrade
// to a partial or empty table and the run continues.
package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Thunsis/epub-translater/internal/fragment"
	"github.com/Thunsis/epub-translater/internal/markdown"
	"github.com/Thunsis/epub-translater/internal/ratelimit"
	"github.com/Thunsis/epub-translater/internal/retry"
	"github.com/Thunsis/epub-translater/internal/segment"
	"github.com/Thunsis/epub-translater/internal/terms"
	"github.com/Thunsis/epub-translater/internal/translator"
)

// Options bound the extraction phase.
type Options struct {
	// MinTermFrequency is the retention threshold: a candidate whose
	// summed frequency across chunks falls below it is dropped.
	MinTermFrequency int
	// MaxTermLength caps a term's length in whitespace-separated words.
	MaxTermLength int
	// MaxSampleChars caps the size of a single extraction request; larger
	// samples are chunked at structural boundaries.
	MaxSampleChars int
	// Stopwords are excluded outright. No list is built in; single common
	// words qualify as terms unless configured away.
	Stopwords []string
	// DomainHint is passed to the API to steer the analysis.
	DomainHint      string
	CaseInsensitive bool
	AttemptTimeout  time.Duration
}

// Extractor runs the extraction phase. Its API calls share the run's rate
// limiter and retry policy with the dispatch phase.
type Extractor struct {
	svc      translator.Service
	limiter  *ratelimit.Limiter
	policy   *retry.Policy
	splitter segment.Splitter
	logger   *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New builds an Extractor. A nil splitter uses the built-in heuristic
// splitter; a nil logger means slog.Default().
func New(svc translator.Service, limiter *ratelimit.Limiter, policy *retry.Policy, splitter segment.Splitter, logger *slog.Logger) *Extractor {
	if splitter == nil {
		splitter = segment.Naive{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		svc:      svc,
		limiter:  limiter,
		policy:   policy,
		splitter: splitter,
		logger:   logger,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

// Extract analyzes the document and returns an unfrozen term table. The
// error is non-nil only when ctx was cancelled; API failures are soft and
// yield a partial or empty table.
func (e *Extractor) Extract(ctx context.Context, fragments []fragment.Fragment, opts Options) (*terms.Table, error) {
	table := terms.New(opts.CaseInsensitive)

	chunks := e.sampleChunks(fragments, opts.MaxSampleChars)
	if len(chunks) == 0 {
		return table, nil
	}

	// Merge candidate lists across chunks by summing frequencies; the
	// threshold filter runs only after all chunks are in.
	merged := make(map[string]translator.Candidate)
	normalize := table.Normalize
	for i, chunk := range chunks {
		candidates, err := e.extractChunk(ctx, chunk, opts)
		if err != nil {
			if ctx.Err() != nil {
				return table, ctx.Err()
			}
			e.logger.Warn("terminology chunk failed, continuing",
				"chunk", i, "error", err)
			continue
		}
		for _, c := range candidates {
			key := normalize(c.Surface)
			if prev, ok := merged[key]; ok {
				c.Frequency += prev.Frequency
				c.Surface = prev.Surface
			}
			merged[key] = c
		}
	}

	stop := make(map[string]bool, len(opts.Stopwords))
	for _, w := range opts.Stopwords {
		stop[normalize(w)] = true
	}

	kept := 0
	for key, c := range merged {
		if stop[key] {
			continue
		}
		if opts.MaxTermLength > 0 && len(strings.Fields(c.Surface)) > opts.MaxTermLength {
			continue
		}
		freq := c.Frequency
		if counted := countOccurrences(fragments, c.Surface, opts.CaseInsensitive); counted > freq {
			freq = counted
		}
		if freq < opts.MinTermFrequency {
			continue
		}
		if err := table.Add(terms.Term{
			Surface:   c.Surface,
			Frequency: freq,
			FirstSeen: firstOccurrence(fragments, c.Surface, opts.CaseInsensitive),
		}); err != nil {
			return table, err
		}
		kept++
	}

	e.logger.Info("terminology extraction complete",
		"candidates", len(merged), "kept", kept, "chunks", len(chunks))
	return table, nil
}

// extractChunk performs one extraction API call under the shared rate
// limiter and retry policy.
func (e *Extractor) extractChunk(ctx context.Context, sample string, opts Options) ([]translator.Candidate, error) {
	for number := 1; ; number++ {
		if err := e.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		candidates, err := func() ([]translator.Candidate, error) {
			callCtx := ctx
			if opts.AttemptTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, opts.AttemptTimeout)
				defer cancel()
			}
			return e.svc.ExtractTerms(callCtx, sample, opts.DomainHint)
		}()
		if err == nil {
			return candidates, nil
		}
		if retry.Classify(err) == retry.Fatal || !e.policy.ShouldRetry(number) {
			return nil, fmt.Errorf("extraction failed after %d attempts: %w", number, err)
		}
		if err := e.sleep(ctx, e.policy.Backoff(number)); err != nil {
			return nil, err
		}
	}
}

// sampleChunks assembles the extraction sample, preferring structural
// fragments (titles and metadata — the table of contents of the document)
// and padding with leading paragraphs when the structure alone is too
// thin. Oversized samples are split at structural boundaries, never
// mid-sentence.
func (e *Extractor) sampleChunks(fragments []fragment.Fragment, maxChars int) []string {
	var structural, prose []string
	for _, f := range fragments {
		// Markup syntax in the sample would surface as bogus candidates.
		text := markdown.Flatten(f.Text)
		if text == "" {
			continue
		}
		switch f.Kind {
		case fragment.Title, fragment.Metadata, fragment.Caption:
			structural = append(structural, text)
		default:
			prose = append(prose, text)
		}
	}

	sample := strings.Join(structural, "\n")
	if len(structural) < 3 {
		// Not enough structure to characterize the domain; sample the
		// opening prose as well.
		budget := maxChars
		if budget <= 0 {
			budget = 8000
		}
		var sb strings.Builder
		sb.WriteString(sample)
		for _, p := range prose {
			if sb.Len()+len(p) > budget {
				break
			}
			sb.WriteString("\n\n")
			sb.WriteString(p)
		}
		sample = sb.String()
	}

	sample = strings.TrimSpace(sample)
	if sample == "" {
		return nil
	}
	return segment.Chunk(sample, maxChars, e.splitter)
}

func countOccurrences(fragments []fragment.Fragment, surface string, caseInsensitive bool) int {
	if caseInsensitive {
		surface = strings.ToLower(surface)
	}
	n := 0
	for _, f := range fragments {
		text := f.Text
		if caseInsensitive {
			text = strings.ToLower(text)
		}
		n += strings.Count(text, surface)
	}
	return n
}

func firstOccurrence(fragments []fragment.Fragment, surface string, caseInsensitive bool) int {
	if caseInsensitive {
		surface = strings.ToLower(surface)
	}
	for _, f := range fragments {
		text := f.Text
		if caseInsensitive {
			text = strings.ToLower(text)
		}
		if strings.Contains(text, surface) {
			return f.ID
		}
	}
	return -1
}
