// Package dispatch runs batches through a bounded pool of workers that
// call the translation API under shared rate limiting, classify failures,
// retry with exponential backoff, and read and populate the response
// cache. Batch completion order is unconstrained; the pipeline reorders
// results downstream by fragment ID.
package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Thunsis/epub-translater/internal/batch"
	"github.com/Thunsis/epub-translater/internal/cache"
	"github.com/Thunsis/epub-translater/internal/ratelimit"
	"github.com/Thunsis/epub-translater/internal/retry"
	"github.com/Thunsis/epub-translater/internal/translator"
)

// Result is the terminal outcome of one batch. Texts is aligned with the
// batch's fragments. A non-nil Err marks a fatal failure: the batch is a
// gap the pipeline fills per its fallback policy, and sibling batches are
// unaffected.
type Result struct {
	Batch     batch.Batch
	Texts     []string
	FromCache bool
	Attempts  int
	Err       error
}

// Stats are cumulative counters across one Run, updated atomically by all
// workers.
type Stats struct {
	APICalls    atomic.Int64
	CacheHits   atomic.Int64 // fragments resolved from cache
	Retries     atomic.Int64
	FailedBatch atomic.Int64
	TokensIn    atomic.Int64 // estimated tokens sent
}

// Options configures a dispatch run.
type Options struct {
	Workers        int
	SourceLang     string
	TargetLang     string
	TermVersion    string
	Glossary       map[string]string
	AttemptTimeout time.Duration

	// BreakerFailures trips the circuit breaker after that many
	// consecutive API failures; BreakerResetTimeout is the open-state
	// cool-down before a probe request is admitted. Zero values take the
	// defaults below.
	BreakerFailures     int
	BreakerResetTimeout time.Duration
}

const (
	defaultBreakerFailures     = 5
	defaultBreakerResetTimeout = 30 * time.Second
)

// Dispatcher owns the worker pool and the shared failure-handling state.
type Dispatcher struct {
	svc     translator.Service
	limiter *ratelimit.Limiter
	policy  *retry.Policy
	store   cache.Cache
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger

	// sleep is the backoff wait; replaced with a fake in tests.
	sleep func(ctx context.Context, d time.Duration) error

	flight singleflight.Group
	Stats  Stats
}

// New builds a Dispatcher. store may be nil to disable caching; a nil
// logger means slog.Default().
func New(svc translator.Service, limiter *ratelimit.Limiter, policy *retry.Policy, store cache.Cache, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		svc:     svc,
		limiter: limiter,
		policy:  policy,
		store:   store,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// newBreaker builds the shared circuit breaker for one Run.
func newBreaker(opts Options) *gobreaker.CircuitBreaker {
	failures := opts.BreakerFailures
	if failures <= 0 {
		failures = defaultBreakerFailures
	}
	timeout := opts.BreakerResetTimeout
	if timeout <= 0 {
		timeout = defaultBreakerResetTimeout
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "translation-api",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run dispatches all batches through the worker pool and returns results
// indexed by batch ID. Cancelling ctx stops admitting new batches to
// workers; in-flight attempts complete or time out on their own.
func (d *Dispatcher) Run(ctx context.Context, batches []batch.Batch, opts Options) []Result {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	if d.breaker == nil {
		d.breaker = newBreaker(opts)
	}

	results := make([]Result, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, b := range batches {
		if ctx.Err() != nil {
			// Stop admitting; batches never started report the
			// cancellation as their failure.
			results[b.ID] = Result{Batch: b, Err: ctx.Err()}
			continue
		}
		b := b
		g.Go(func() error {
			results[b.ID] = d.process(gctx, b, opts)
			// Worker errors never cancel siblings: a fatal batch is a
			// gap, not a run failure.
			return nil
		})
	}
	g.Wait()
	return results
}

// process drives one batch to a terminal outcome.
func (d *Dispatcher) process(ctx context.Context, b batch.Batch, opts Options) Result {
	keys := make([]string, len(b.Fragments))
	texts := make([]string, len(b.Fragments))
	var missing []int

	for i, f := range b.Fragments {
		keys[i] = cache.Key(f.Text, opts.SourceLang, opts.TargetLang, opts.TermVersion)
		if d.store != nil {
			if cached, ok, err := d.store.Get(ctx, keys[i]); err == nil && ok {
				texts[i] = cached
				d.Stats.CacheHits.Add(1)
				continue
			} else if err != nil {
				d.logger.Warn("cache read failed", "batch", b.ID, "error", err)
			}
		}
		missing = append(missing, i)
	}

	// A full cache hit short-circuits the batch entirely: no API call,
	// no rate-limiter token.
	if len(missing) == 0 {
		return Result{Batch: b, Texts: texts, FromCache: true}
	}

	sources := make([]string, len(missing))
	for j, i := range missing {
		sources[j] = b.Fragments[i].Text
	}

	// Identical in-flight requests collapse to one API call; combined
	// with first-writer-wins puts this gives at-most-one-write-per-key.
	flightKey := flightFingerprint(keys, missing)
	v, err, _ := d.flight.Do(flightKey, func() (interface{}, error) {
		return d.translateWithRetry(ctx, b, translator.Request{
			Texts:      sources,
			SourceLang: opts.SourceLang,
			TargetLang: opts.TargetLang,
			Glossary:   opts.Glossary,
		}, opts)
	})

	attempts := 0
	if ta, ok := v.(*translated); ok && ta != nil {
		attempts = ta.attempts
	}
	if err != nil {
		d.Stats.FailedBatch.Add(1)
		d.logger.Error("batch failed", "batch", b.ID, "attempts", attempts, "error", err)
		return Result{Batch: b, Attempts: attempts, Err: err}
	}

	out := v.(*translated)
	for j, i := range missing {
		texts[i] = out.texts[j]
		if d.store != nil {
			putErr := d.store.Put(ctx, cache.Entry{
				Key:            keys[i],
				SourceText:     b.Fragments[i].Text,
				TranslatedText: out.texts[j],
				SourceLang:     opts.SourceLang,
				TargetLang:     opts.TargetLang,
				TermVersion:    opts.TermVersion,
			})
			if putErr != nil {
				d.logger.Warn("cache write failed", "batch", b.ID, "error", putErr)
			}
		}
	}
	return Result{Batch: b, Texts: texts, Attempts: attempts}
}

// translated carries a successful API outcome out of the singleflight.
type translated struct {
	texts    []string
	attempts int
}

// translateWithRetry is the per-batch attempt state machine: each try goes
// pending → in-flight → succeeded / retryable-failed / fatal-failed, and
// retryable failures are re-entered after the policy's backoff delay.
func (d *Dispatcher) translateWithRetry(ctx context.Context, b batch.Batch, req translator.Request, opts Options) (*translated, error) {
	for number := 1; ; number++ {
		a := attempt{batchID: b.ID, number: number, state: statePending}

		if err := d.limiter.Acquire(ctx); err != nil {
			return &translated{attempts: number - 1}, fmt.Errorf("rate limiter: %w", err)
		}

		a.state = stateInFlight
		a.submittedAt = time.Now()
		d.Stats.APICalls.Add(1)
		d.Stats.TokensIn.Add(int64(b.Tokens))

		texts, err := d.callOnce(ctx, req, opts.AttemptTimeout)
		if err == nil {
			a.state = stateSucceeded
			d.logger.Debug("batch translated",
				"batch", a.batchID, "attempt", a.number, "state", a.state,
				"latency", time.Since(a.submittedAt))
			return &translated{texts: texts, attempts: number}, nil
		}

		a.err = err
		if retry.Classify(err) == retry.Fatal {
			a.state = stateFatalFailed
			return &translated{attempts: number}, fmt.Errorf("fatal failure on attempt %d: %w", number, err)
		}
		a.state = stateRetryableFailed

		// number counts completed attempts; retries beyond the budget
		// convert to fatal.
		if !d.policy.ShouldRetry(number) {
			return &translated{attempts: number}, fmt.Errorf("giving up after %d attempts: %w", number, a.err)
		}

		delay := d.policy.Backoff(number)
		d.Stats.Retries.Add(1)
		d.logger.Warn("retrying batch",
			"batch", a.batchID, "attempt", a.number, "state", a.state,
			"delay", delay, "error", a.err)
		if err := d.sleep(ctx, delay); err != nil {
			return &translated{attempts: number}, err
		}
	}
}

// callOnce performs a single API call through the circuit breaker with a
// per-attempt timeout. A timed-out attempt surfaces as a retryable
// failure; the timeout never spans the whole batch lifetime.
func (d *Dispatcher) callOnce(ctx context.Context, req translator.Request, timeout time.Duration) ([]string, error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	v, err := d.breaker.Execute(func() (interface{}, error) {
		return d.svc.TranslateBatch(attemptCtx, req)
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func flightFingerprint(keys []string, missing []int) string {
	h := sha256.New()
	for _, i := range missing {
		h.Write([]byte(keys[i]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
