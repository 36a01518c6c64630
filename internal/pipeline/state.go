package pipeline

// State is the pipeline's run phase. Dispatching is the only state with
// internal concurrency; every other state is a sequential transform over
// the full fragment set.
type State int

const (
	StateExtracting State = iota
	StateProtecting
	StateBatching
	StateDispatching
	StateRestoring
	StateReassembling
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateExtracting:
		return "extracting"
	case StateProtecting:
		return "protecting"
	case StateBatching:
		return "batching"
	case StateDispatching:
		return "dispatching"
	case StateRestoring:
		return "restoring"
	case StateReassembling:
		return "reassembling"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}
