package sampler

// State represents the current state of the sampling loop.
type State int

const (
	// StateRunning is the initial state. The loop snapshots, stores and sleeps.
	StateRunning State = iota

	// StateStopped is terminal. It is entered on cancellation, a failed
	// snapshot command or a storage error.
	StateStopped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the state is a terminal state (stopped).
func (s State) IsTerminal() bool {
	return s == StateStopped
}
