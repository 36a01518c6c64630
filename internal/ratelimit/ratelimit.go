// Package ratelimit provides the token-bucket admission control shared by
// all dispatch workers. One limiter exists per pipeline run, so the
// aggregate outbound request rate respects the provider's limit no matter
// how many workers are pulling batches.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter admits at most limit API calls per window. Acquire blocks the
// calling worker until a token is available or the context is cancelled;
// it never rejects — backpressure, not failure.
type Limiter struct {
	rl *rate.Limiter
}

// New builds a limiter admitting limit calls per window. The bucket starts
// with a single token and refills evenly across the window, which keeps
// any window-sized interval at or below limit admissions even at startup.
// limit <= 0 disables limiting. A zero window defaults to one minute.
func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		return &Limiter{rl: rate.NewLimiter(rate.Inf, 1)}
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{rl: rate.NewLimiter(rate.Every(window/time.Duration(limit)), 1)}
}

// Acquire consumes one admission token, blocking until one is available.
// The only error it returns is the context's when the run is cancelled.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.rl.Wait(ctx)
}

// Allow reports whether a token is immediately available, consuming it if
// so. It exists for diagnostics and tests; dispatch workers use Acquire.
func (l *Limiter) Allow() bool {
	return l.rl.Allow()
}
