// Package translator talks to the third-party translation API. The engine
// treats the provider as a black box behind Service; the DeepSeek
// implementation uses the OpenAI-compatible chat completions API.
package translator

import (
	"context"
	"time"
)

// Request is one outbound batch translation call. Texts are the protected
// fragment texts in original order; they travel in a single API request.
type Request struct {
	Texts      []string
	SourceLang string
	TargetLang string
	// Glossary pins target-language renderings of specific terms, embedded
	// into the system prompt.
	Glossary map[string]string
}

// Candidate is one terminology candidate reported by the API during the
// extraction phase.
type Candidate struct {
	Surface   string
	Frequency int
	Reason    string
}

// Service is the translation-API collaborator. Both calls are network
// calls subject to the engine's rate limiting and retry policy.
type Service interface {
	Name() string
	// TranslateBatch translates req.Texts and returns exactly
	// len(req.Texts) results in the same order.
	TranslateBatch(ctx context.Context, req Request) ([]string, error)
	// ExtractTerms asks the provider to identify domain terminology in a
	// document sample.
	ExtractTerms(ctx context.Context, sample, domainHint string) ([]Candidate, error)
}

// Config carries provider connection parameters.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}
