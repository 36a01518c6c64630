// Package retry decides whether a failed dispatch attempt is worth
// re-attempting and how long to wait before doing so.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"syscall"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

// Class is the failure classification of a single attempt.
type Class int

const (
	// Retryable failures are transient: timeouts, connection resets,
	// HTTP 429 and 5xx. The batch is re-attempted after a backoff delay.
	Retryable Class = iota
	// Fatal failures abort the batch immediately: auth errors (401/403)
	// and malformed requests (other 4xx). Sibling batches continue.
	Fatal
)

func (c Class) String() string {
	if c == Retryable {
		return "retryable"
	}
	return "fatal"
}

// Classify maps an error from the translation API to a failure class.
func Classify(err error) Class {
	if err == nil {
		return Retryable
	}

	// Run-level cancellation is not the provider's fault; treat it as
	// fatal for the attempt so the loop stops immediately.
	if errors.Is(err, context.Canceled) {
		return Fatal
	}
	// A per-attempt timeout is transient.
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return Retryable
	}
	// The breaker rejecting calls means the provider was recently failing;
	// waiting out the backoff is exactly the right response.
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Retryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Retryable
	}

	if status, ok := httpStatus(err); ok {
		return classifyStatus(status)
	}

	// Unknown transport-level errors (DNS, broken pipe, EOF mid-response)
	// are treated as transient.
	return Retryable
}

func classifyStatus(status int) Class {
	switch {
	case status == http.StatusTooManyRequests:
		return Retryable
	case status >= 500:
		return Retryable
	default:
		return Fatal // 401/403 and other 4xx
	}
}

func httpStatus(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode, true
	}
	return 0, false
}

// Policy computes backoff delays. Attempt n (1-based) waits
// base * 2^(n-1) plus uniform jitter in [0, base), capped at Max.
type Policy struct {
	MaxRetries int
	Base       time.Duration
	Max        time.Duration

	// jitter returns a random duration in [0, d); replaced in tests.
	jitter func(d time.Duration) time.Duration
}

// NewPolicy builds a Policy with the standard jitter source. maxDelay <= 0
// means no cap.
func NewPolicy(maxRetries int, base, maxDelay time.Duration) *Policy {
	return &Policy{
		MaxRetries: maxRetries,
		Base:       base,
		Max:        maxDelay,
		jitter: func(d time.Duration) time.Duration {
			if d <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(d)))
		},
	}
}

// ShouldRetry reports whether another attempt is allowed after attempt
// (1-based) failed with a retryable error.
func (p *Policy) ShouldRetry(attempt int) bool {
	return attempt <= p.MaxRetries
}

// Backoff returns the delay to wait before re-attempting after failure
// number attempt (1-based).
func (p *Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base << (attempt - 1)
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d + p.jitter(p.Base)
}

// WithJitter returns a copy of the policy using the given jitter function.
// Tests pass a fixed function to make delays deterministic.
func (p *Policy) WithJitter(fn func(time.Duration) time.Duration) *Policy {
	cp := *p
	cp.jitter = fn
	return &cp
}
