package pipeline

import "time"

// Provider pricing per 1000 tokens, used for the run-summary cost
// estimate only; dispatch decisions never depend on cost.
const (
	inputPricePer1K  = 0.002
	outputPricePer1K = 0.008
	// Output tokens run about twice the input for translation work.
	outputInputRatio = 2.0
)

// BatchError records one fatally failed batch in the run summary.
type BatchError struct {
	BatchID     int
	FragmentIDs []int
	Err         error
}

// Summary is the end-of-run report.
type Summary struct {
	RunID    string
	State    State
	Duration time.Duration

	Fragments       int
	Batches         int
	Terms           int
	TermVersion     string
	CacheHits       int64
	APICalls        int64
	Retries         int64
	FailedBatches   int64
	FailedFragments int
	IntegrityErrors int
	WrongLanguage   int

	TokensIn          int64
	TokensOutEstimate int64
	EstimatedCostUSD  float64

	BatchErrors []BatchError
}

// estimateCost projects the API cost of the run from the token counters,
// assuming translation output runs about outputInputRatio times the input.
func (s *Summary) estimateCost() {
	s.TokensOutEstimate = int64(float64(s.TokensIn) * outputInputRatio)
	s.EstimatedCostUSD = float64(s.TokensIn)/1000*inputPricePer1K +
		float64(s.TokensOutEstimate)/1000*outputPricePer1K
}
