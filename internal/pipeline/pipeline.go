// Package pipeline orchestrates a full translation run: terminology
// extraction, protection, batching, concurrent dispatch, restoration, and
// ordered reassembly. It is the only component with end-to-end state.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Thunsis/epub-translater/internal/batch"
	"github.com/Thunsis/epub-translater/internal/cache"
	"github.com/Thunsis/epub-translater/internal/config"
	"github.com/Thunsis/epub-translater/internal/dispatch"
	"github.com/Thunsis/epub-translater/internal/document"
	"github.com/Thunsis/epub-translater/internal/extractor"
	"github.com/Thunsis/epub-translater/internal/fragment"
	"github.com/Thunsis/epub-translater/internal/langcheck"
	"github.com/Thunsis/epub-translater/internal/ratelimit"
	"github.com/Thunsis/epub-translater/internal/retry"
	"github.com/Thunsis/epub-translater/internal/segment"
	"github.com/Thunsis/epub-translater/internal/terms"
	"github.com/Thunsis/epub-translater/internal/translator"
)

// untranslatedMarker prefixes fragments left in the source language when
// the failure policy is Mark.
const untranslatedMarker = "[UNTRANSLATED] "

// detectSampleChars bounds the sample fed to source-language detection.
const detectSampleChars = 2000

// LanguageChecker detects document language. It resolves an "auto" source
// language and flags fragments translated into the wrong language.
type LanguageChecker interface {
	DetectISO(text string) (string, bool)
	Check(text, targetLang string) error
}

// Pipeline runs one document through the engine.
type Pipeline struct {
	loader   document.Loader
	saver    document.Saver
	svc      translator.Service
	store    cache.Cache // nil disables caching
	splitter segment.Splitter
	cfg      *config.Run
	logger   *slog.Logger

	// Check may be set before Run; left nil, one is built on demand.
	Check LanguageChecker

	state State
}

// New assembles a pipeline. store may be nil; a nil splitter uses the
// built-in heuristic; a nil logger means slog.Default().
func New(loader document.Loader, saver document.Saver, svc translator.Service, store cache.Cache, splitter segment.Splitter, cfg *config.Run, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if splitter == nil {
		splitter = segment.Naive{}
	}
	return &Pipeline{
		loader:   loader,
		saver:    saver,
		svc:      svc,
		store:    store,
		splitter: splitter,
		cfg:      cfg,
		logger:   logger,
	}
}

// State reports the pipeline's current phase.
func (p *Pipeline) State() State { return p.state }

func (p *Pipeline) transition(to State) {
	p.logger.Info("pipeline state", "from", p.state, "to", to)
	p.state = to
}

func (p *Pipeline) fail(err error) error {
	p.transition(StateFailed)
	return err
}

// Run executes the full pipeline. The returned Summary is non-nil
// whenever fragments were loaded, even on failure.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := &Summary{RunID: uuid.NewString()}
	defer func() {
		summary.State = p.state
		summary.Duration = time.Since(start)
		summary.estimateCost()
	}()

	fragments, err := p.loader.Load(ctx)
	if err != nil {
		// Without a valid source there is no meaningful partial output.
		return summary, p.fail(fmt.Errorf("failed to load document: %w", err))
	}
	summary.Fragments = len(fragments)
	if len(fragments) == 0 {
		p.transition(StateDone)
		return summary, p.saver.Save(ctx, nil)
	}

	srcLang := p.cfg.SourceLang
	if srcLang == "auto" {
		srcLang, err = p.detectSourceLang(fragments)
		if err != nil {
			return summary, p.fail(err)
		}
		p.logger.Info("detected source language", "lang", srcLang)
	}

	limiter := ratelimit.New(p.cfg.RateLimitPerWindow, p.cfg.RateLimitWindow)
	policy := retry.NewPolicy(p.cfg.MaxRetries, p.cfg.BackoffBaseDelay, p.cfg.BackoffMaxDelay)

	// Extracting: terminology is an optimization; extraction failure
	// degrades to an empty table.
	table, err := p.extractTerms(ctx, fragments, limiter, policy)
	if err != nil {
		return summary, p.fail(err)
	}

	// Protecting: user terms win, then the table freezes for the rest of
	// the run — a term added mid-stream would invalidate cached and
	// in-flight batches.
	p.transition(StateProtecting)
	if p.cfg.TermsFile != "" {
		custom, err := terms.LoadCustomTerms(p.cfg.TermsFile)
		if err != nil {
			return summary, p.fail(err)
		}
		if err := table.Merge(custom); err != nil {
			return summary, p.fail(err)
		}
	}
	table.Freeze()
	summary.Terms = table.Len()
	summary.TermVersion = table.Version()

	protected := make([]fragment.Protected, len(fragments))
	for i, f := range fragments {
		protected[i] = fragment.Protected{Fragment: f}
		protected[i].Text = table.Protect(f.Text)
	}

	p.transition(StateBatching)
	batches := batch.Assemble(protected, p.cfg.BatchCharBudget, p.cfg.TokenBudget)
	summary.Batches = len(batches)
	p.logger.Info("assembled batches",
		"fragments", len(fragments), "batches", len(batches),
		"char_budget", p.cfg.BatchCharBudget, "token_budget", p.cfg.TokenBudget)

	p.transition(StateDispatching)
	d := dispatch.New(p.svc, limiter, policy, p.store, p.logger)
	results := d.Run(ctx, batches, dispatch.Options{
		Workers:             p.cfg.ConcurrentRequests,
		SourceLang:          srcLang,
		TargetLang:          p.cfg.TargetLang,
		TermVersion:         table.Version(),
		Glossary:            table.Glossary(),
		AttemptTimeout:      p.cfg.Timeout,
		BreakerFailures:     p.cfg.BreakerFailures,
		BreakerResetTimeout: p.cfg.BreakerResetTimeout,
	})
	if ctx.Err() != nil {
		return summary, p.fail(ctx.Err())
	}
	summary.CacheHits = d.Stats.CacheHits.Load()
	summary.APICalls = d.Stats.APICalls.Load()
	summary.Retries = d.Stats.Retries.Load()
	summary.FailedBatches = d.Stats.FailedBatch.Load()
	summary.TokensIn = d.Stats.TokensIn.Load()

	// Restoring and reassembling: results land indexed by fragment ID so
	// the output order never depends on dispatch completion order.
	p.transition(StateRestoring)
	var check LanguageChecker
	if p.cfg.ValidateOutput {
		check = p.checker()
	}
	out := make([]fragment.Translated, len(fragments))
	for _, res := range results {
		if res.Err != nil {
			ids := make([]int, len(res.Batch.Fragments))
			for i, f := range res.Batch.Fragments {
				ids[i] = f.ID
			}
			summary.BatchErrors = append(summary.BatchErrors, BatchError{
				BatchID:     res.Batch.ID,
				FragmentIDs: ids,
				Err:         res.Err,
			})
			if p.cfg.OnFailure == config.Abort {
				return summary, p.fail(fmt.Errorf("batch %d failed: %w", res.Batch.ID, res.Err))
			}
			for _, f := range res.Batch.Fragments {
				out[f.ID] = p.fallback(fragments[f.ID])
			}
			continue
		}
		for i, f := range res.Batch.Fragments {
			restored, integrityErrs := table.Restore(res.Texts[i])
			for _, ierr := range integrityErrs {
				summary.IntegrityErrors++
				p.logger.Warn("placeholder integrity failure",
					"fragment", f.ID, "error", ierr)
			}
			if check != nil && !res.FromCache {
				if cerr := check.Check(restored, p.cfg.TargetLang); cerr != nil {
					summary.WrongLanguage++
					p.logger.Warn("suspect translation language",
						"fragment", f.ID, "error", cerr)
				}
			}
			out[f.ID] = fragment.Translated{
				ID:     f.ID,
				Text:   restored,
				Source: fragments[f.ID].Text,
				Kind:   f.Kind,
			}
		}
	}
	summary.FailedFragments = countFailed(out)

	p.transition(StateReassembling)
	if err := p.saver.Save(ctx, out); err != nil {
		return summary, p.fail(fmt.Errorf("failed to save document: %w", err))
	}

	p.transition(StateDone)
	return summary, nil
}

// extractTerms runs the Extracting stage. The returned table is unfrozen.
func (p *Pipeline) extractTerms(ctx context.Context, fragments []fragment.Fragment, limiter *ratelimit.Limiter, policy *retry.Policy) (*terms.Table, error) {
	p.transition(StateExtracting)
	if !p.cfg.AutoTermsEnabled {
		return terms.New(p.cfg.CaseInsensitiveTerms), nil
	}
	ext := extractor.New(p.svc, limiter, policy, p.splitter, p.logger)
	table, err := ext.Extract(ctx, fragments, extractor.Options{
		MinTermFrequency: p.cfg.MinTermFrequency,
		MaxTermLength:    p.cfg.MaxTermLength,
		MaxSampleChars:   p.cfg.MaxSampleChars,
		Stopwords:        p.cfg.Stopwords,
		DomainHint:       p.cfg.DomainHint,
		CaseInsensitive:  p.cfg.CaseInsensitiveTerms,
		AttemptTimeout:   p.cfg.Timeout,
	})
	if err != nil {
		// Only cancellation propagates; API failures already degraded to
		// a partial table inside Extract.
		if ctx.Err() != nil {
			return nil, err
		}
		p.logger.Warn("terminology extraction degraded", "error", err)
	}
	return table, nil
}

// checker returns the injected LanguageChecker, building the default
// detector on first use.
func (p *Pipeline) checker() LanguageChecker {
	if p.Check == nil {
		p.Check = langcheck.New()
	}
	return p.Check
}

// detectSourceLang resolves an "auto" source language from a sample of the
// document's prose.
func (p *Pipeline) detectSourceLang(fragments []fragment.Fragment) (string, error) {
	var sample strings.Builder
	for _, f := range fragments {
		if sample.Len() >= detectSampleChars {
			break
		}
		sample.WriteString(f.Text)
		sample.WriteString("\n")
	}
	lang, ok := p.checker().DetectISO(sample.String())
	if !ok {
		return "", fmt.Errorf("could not detect source language; set source_lang explicitly")
	}
	target := p.cfg.TargetLang
	if i := strings.IndexAny(target, "-_"); i > 0 {
		target = target[:i]
	}
	if strings.EqualFold(lang, target) {
		return "", fmt.Errorf("detected source language %s equals the target language", lang)
	}
	return lang, nil
}

// fallback renders a fatally failed fragment per the configured policy.
func (p *Pipeline) fallback(src fragment.Fragment) fragment.Translated {
	text := src.Text
	if p.cfg.OnFailure == config.Mark {
		text = untranslatedMarker + text
	}
	return fragment.Translated{
		ID:     src.ID,
		Text:   text,
		Source: src.Text,
		Kind:   src.Kind,
		Failed: true,
	}
}

func countFailed(out []fragment.Translated) int {
	n := 0
	for _, f := range out {
		if f.Failed {
			n++
		}
	}
	return n
}
