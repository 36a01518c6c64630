package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Thunsis/epub-translater/internal/cache"
	"github.com/Thunsis/epub-translater/internal/config"
	"github.com/Thunsis/epub-translater/internal/fragment"
	"github.com/Thunsis/epub-translater/internal/translator"
)

type memDoc struct {
	fragments []fragment.Fragment
	loadErr   error
	saveErr   error
	saved     []fragment.Translated
}

func (d *memDoc) Load(context.Context) ([]fragment.Fragment, error) {
	return d.fragments, d.loadErr
}

func (d *memDoc) Save(_ context.Context, translated []fragment.Translated) error {
	d.saved = translated
	return d.saveErr
}

type mockService struct {
	translateFunc func(ctx context.Context, req translator.Request) ([]string, error)
	extractFunc   func(ctx context.Context, sample, hint string) ([]translator.Candidate, error)
	calls         atomic.Int32
}

func (m *mockService) Name() string { return "mock" }

func (m *mockService) TranslateBatch(ctx context.Context, req translator.Request) ([]string, error) {
	m.calls.Add(1)
	if m.translateFunc != nil {
		return m.translateFunc(ctx, req)
	}
	out := make([]string, len(req.Texts))
	for i, text := range req.Texts {
		out[i] = "译" + text
	}
	return out, nil
}

func (m *mockService) ExtractTerms(ctx context.Context, sample, hint string) ([]translator.Candidate, error) {
	if m.extractFunc != nil {
		return m.extractFunc(ctx, sample, hint)
	}
	return nil, nil
}

type stubChecker struct {
	lang    string
	flagged atomic.Int32
}

func (s *stubChecker) DetectISO(string) (string, bool) { return s.lang, s.lang != "" }

func (s *stubChecker) Check(text, target string) error {
	if s.lang != "" && !strings.HasPrefix(target, s.lang) {
		s.flagged.Add(1)
		return fmt.Errorf("expected %s but detected %s", target, s.lang)
	}
	return nil
}

func testConfig() *config.Run {
	return &config.Run{
		SourceLang:         "en",
		TargetLang:         "zh-CN",
		Timeout:            time.Second,
		BatchCharBudget:    4000,
		ConcurrentRequests: 2,
		RateLimitPerWindow: 0, // unlimited in tests
		MaxRetries:         1,
		BackoffBaseDelay:   time.Millisecond,
		OnFailure:          config.KeepSource,
	}
}

func doc(texts ...string) *memDoc {
	d := &memDoc{}
	for i, text := range texts {
		d.fragments = append(d.fragments, fragment.Fragment{ID: i, Text: text, Kind: fragment.Paragraph})
	}
	return d
}

func TestPipeline_Run(t *testing.T) {
	d := doc("first paragraph", "second paragraph", "third paragraph")
	svc := &mockService{}
	p := New(d, d, svc, cache.NewMemory(), nil, testConfig(), nil)

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.State != StateDone {
		t.Errorf("state = %v, want done", summary.State)
	}
	if summary.Fragments != 3 {
		t.Errorf("Fragments = %d", summary.Fragments)
	}
	if len(d.saved) != 3 {
		t.Fatalf("saved %d fragments", len(d.saved))
	}
	for i, f := range d.saved {
		if f.ID != i {
			t.Errorf("saved fragment %d has ID %d", i, f.ID)
		}
		if f.Text != "译"+d.fragments[i].Text {
			t.Errorf("saved fragment %d = %q", i, f.Text)
		}
	}
	if summary.RunID == "" {
		t.Error("missing run ID")
	}
}

func TestPipeline_CustomTermsProtected(t *testing.T) {
	termsPath := filepath.Join(t.TempDir(), "terms.txt")
	if err := os.WriteFile(termsPath, []byte("TensorFlow\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var sawProtected atomic.Bool
	svc := &mockService{
		translateFunc: func(_ context.Context, req translator.Request) ([]string, error) {
			out := make([]string, len(req.Texts))
			for i, text := range req.Texts {
				if strings.Contains(text, "⟦TERM:TensorFlow⟧") {
					sawProtected.Store(true)
				}
				if strings.Contains(text, "TensorFlow") && !strings.Contains(text, "⟦TERM:") {
					t.Errorf("unprotected term reached the API: %q", text)
				}
				// Sentinels pass through the "translation" untouched.
				out[i] = "译|" + text
			}
			return out, nil
		},
	}

	cfg := testConfig()
	cfg.TermsFile = termsPath
	d := doc("We use TensorFlow here.")
	p := New(d, d, svc, nil, nil, cfg, nil)

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !sawProtected.Load() {
		t.Error("protected term never reached the API")
	}
	if summary.Terms != 1 {
		t.Errorf("Terms = %d, want 1", summary.Terms)
	}
	// The output carries the restored original term, not the sentinel.
	if got := d.saved[0].Text; !strings.Contains(got, "TensorFlow") || strings.Contains(got, "⟦TERM:") {
		t.Errorf("saved text = %q", got)
	}
	if summary.IntegrityErrors != 0 {
		t.Errorf("IntegrityErrors = %d", summary.IntegrityErrors)
	}
}

func TestPipeline_AutoTermExtraction(t *testing.T) {
	svc := &mockService{
		extractFunc: func(context.Context, string, string) ([]translator.Candidate, error) {
			return []translator.Candidate{{Surface: "Kubernetes", Frequency: 3}}, nil
		},
	}
	cfg := testConfig()
	cfg.AutoTermsEnabled = true
	cfg.MinTermFrequency = 1

	d := doc("Kubernetes is used.", "More about Kubernetes.", "Kubernetes again.")
	p := New(d, d, svc, nil, nil, cfg, nil)

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Terms != 1 {
		t.Errorf("Terms = %d, want 1", summary.Terms)
	}
	if summary.TermVersion == "" {
		t.Error("missing term version")
	}
}

func TestPipeline_FailurePolicy_KeepSource(t *testing.T) {
	svc := &mockService{
		translateFunc: func(_ context.Context, req translator.Request) ([]string, error) {
			return nil, &openai.APIError{HTTPStatusCode: 403, Message: "forbidden"}
		},
	}
	d := doc("untranslatable paragraph")
	p := New(d, d, svc, nil, nil, testConfig(), nil)

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("keep-source policy must not fail the run: %v", err)
	}
	if summary.FailedBatches != 1 {
		t.Errorf("FailedBatches = %d", summary.FailedBatches)
	}
	if summary.FailedFragments != 1 {
		t.Errorf("FailedFragments = %d", summary.FailedFragments)
	}
	if len(summary.BatchErrors) != 1 {
		t.Errorf("BatchErrors = %v", summary.BatchErrors)
	}
	if d.saved[0].Text != "untranslatable paragraph" || !d.saved[0].Failed {
		t.Errorf("saved = %+v", d.saved[0])
	}
}

func TestPipeline_FailurePolicy_Mark(t *testing.T) {
	svc := &mockService{
		translateFunc: func(context.Context, translator.Request) ([]string, error) {
			return nil, &openai.APIError{HTTPStatusCode: 400, Message: "bad"}
		},
	}
	cfg := testConfig()
	cfg.OnFailure = config.Mark

	d := doc("some paragraph")
	p := New(d, d, svc, nil, nil, cfg, nil)

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.HasPrefix(d.saved[0].Text, "[UNTRANSLATED] ") {
		t.Errorf("saved = %q", d.saved[0].Text)
	}
}

func TestPipeline_FailurePolicy_Abort(t *testing.T) {
	svc := &mockService{
		translateFunc: func(context.Context, translator.Request) ([]string, error) {
			return nil, &openai.APIError{HTTPStatusCode: 401, Message: "denied"}
		},
	}
	cfg := testConfig()
	cfg.OnFailure = config.Abort

	d := doc("a paragraph")
	p := New(d, d, svc, nil, nil, cfg, nil)

	summary, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("abort policy must fail the run")
	}
	if summary.State != StateFailed {
		t.Errorf("state = %v, want failed", summary.State)
	}
	if d.saved != nil {
		t.Error("aborted run must not write output")
	}
}

func TestPipeline_LoadFailure(t *testing.T) {
	d := &memDoc{loadErr: errors.New("no such file")}
	p := New(d, d, &mockService{}, nil, nil, testConfig(), nil)

	summary, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected load failure to abort")
	}
	if summary.State != StateFailed {
		t.Errorf("state = %v", summary.State)
	}
}

func TestPipeline_EmptyDocument(t *testing.T) {
	d := &memDoc{}
	svc := &mockService{}
	p := New(d, d, svc, nil, nil, testConfig(), nil)

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.State != StateDone {
		t.Errorf("state = %v", summary.State)
	}
	if svc.calls.Load() != 0 {
		t.Error("empty document reached the API")
	}
}

func TestPipeline_CachedRerun(t *testing.T) {
	store := cache.NewMemory()
	svc := &mockService{}
	cfg := testConfig()

	d := doc("alpha", "beta")
	p := New(d, d, svc, store, nil, cfg, nil)
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstCalls := svc.calls.Load()

	d2 := doc("alpha", "beta")
	p2 := New(d2, d2, svc, store, nil, cfg, nil)
	summary, err := p2.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if svc.calls.Load() != firstCalls {
		t.Errorf("re-run made %d extra API calls", svc.calls.Load()-firstCalls)
	}
	if summary.CacheHits != 2 {
		t.Errorf("CacheHits = %d, want 2", summary.CacheHits)
	}
	if d2.saved[0].Text != d.saved[0].Text {
		t.Error("cached re-run produced different output")
	}
}

func TestPipeline_ValidateOutput(t *testing.T) {
	// The "translations" stay in English while the target is Chinese;
	// every fragment long enough to check gets flagged.
	svc := &mockService{
		translateFunc: func(_ context.Context, req translator.Request) ([]string, error) {
			out := make([]string, len(req.Texts))
			copy(out, req.Texts)
			return out, nil
		},
	}
	cfg := testConfig()
	cfg.ValidateOutput = true

	check := &stubChecker{lang: "en"}
	d := doc("this stays in english unfortunately for the reader")
	p := New(d, d, svc, nil, nil, cfg, nil)
	p.Check = check

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.WrongLanguage != 1 {
		t.Errorf("WrongLanguage = %d, want 1", summary.WrongLanguage)
	}
	if check.flagged.Load() != 1 {
		t.Errorf("checker flagged %d fragments", check.flagged.Load())
	}
}

func TestPipeline_AutoSourceLang(t *testing.T) {
	svc := &mockService{}
	cfg := testConfig()
	cfg.SourceLang = "auto"

	var sawSource atomic.Value
	svc.translateFunc = func(_ context.Context, req translator.Request) ([]string, error) {
		sawSource.Store(req.SourceLang)
		out := make([]string, len(req.Texts))
		for i, text := range req.Texts {
			out[i] = "译" + text
		}
		return out, nil
	}

	d := doc("a paragraph to translate")
	p := New(d, d, svc, nil, nil, cfg, nil)
	p.Check = &stubChecker{lang: "en"}

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := sawSource.Load(); got != "en" {
		t.Errorf("dispatched source lang = %v, want detected en", got)
	}
}

func TestPipeline_SaveFailure(t *testing.T) {
	d := doc("paragraph")
	d.saveErr = errors.New("disk full")
	p := New(d, d, &mockService{}, nil, nil, testConfig(), nil)

	summary, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected save failure")
	}
	if summary.State != StateFailed {
		t.Errorf("state = %v", summary.State)
	}
}
