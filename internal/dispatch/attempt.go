package dispatch

import "time"

// attemptState tracks one dispatch attempt through its lifecycle. The
// retry loop is an explicit state machine so the retry contract is
// testable with a fake clock and a fake transport, without real network
// calls.
type attemptState int

const (
	statePending attemptState = iota
	stateInFlight
	stateSucceeded
	stateRetryableFailed
	stateFatalFailed
)

func (s attemptState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateInFlight:
		return "in-flight"
	case stateSucceeded:
		return "succeeded"
	case stateRetryableFailed:
		return "retryable-failed"
	case stateFatalFailed:
		return "fatal-failed"
	}
	return "unknown"
}

// attempt is the transient per-try record. It is owned by the worker
// processing the batch and discarded once the batch reaches a terminal
// outcome.
type attempt struct {
	batchID     int
	number      int
	submittedAt time.Time
	state       attemptState
	err         error
}
