// Package cache is the content-addressed store of prior translations.
// Entries are keyed by the fingerprint of (protected fragment text,
// language pair, terminology version) and survive process restarts, which
// is what makes re-runs of a partially translated document cheap: every
// batch completed before the interruption resolves from cache.
package cache

import "context"

// Cache is safe for concurrent use by all dispatch workers. Writes are
// first-writer-wins: concurrent identical puts are idempotent no-ops.
type Cache interface {
	// Get returns the cached translation for key, if present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Put stores an entry under e.Key. Writing a key that already exists
	// is a no-op.
	Put(ctx context.Context, e Entry) error
}

// Entry is one stored translation, with bookkeeping for inspection.
type Entry struct {
	Key            string
	SourceText     string
	TranslatedText string
	SourceLang     string
	TargetLang     string
	TermVersion    string
	UsageCount     int
}

// Stats summarises store usage for the cache CLI.
type Stats struct {
	TotalEntries int
	TotalUsage   int
}
