// Package supervisor runs a set of long-lived tasks alongside an OS interrupt
// watcher and shuts all of them down on the first terminal event.
package supervisor

// State represents the lifecycle of a Supervisor.
type State int

const (
	// StateIdle is the initial state before Run is called.
	StateIdle State = iota

	// StateRunning indicates tasks are running and no terminal event has
	// been observed.
	StateRunning

	// StateDraining indicates the shared context has been cancelled and the
	// supervisor is waiting for the remaining tasks.
	StateDraining

	// StateStopped indicates Run has returned.
	StateStopped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Reason identifies the event that ended a supervised run.
type Reason int

const (
	// ReasonInterrupt means SIGINT or SIGTERM was received.
	ReasonInterrupt Reason = iota

	// ReasonTaskCompleted means a task returned without error first.
	ReasonTaskCompleted

	// ReasonTaskFailed means a task returned an error first.
	ReasonTaskFailed

	// ReasonCancelled means the parent context was cancelled.
	ReasonCancelled
)

// String returns a human-readable name for the reason.
func (r Reason) String() string {
	switch r {
	case ReasonInterrupt:
		return "interrupt"
	case ReasonTaskCompleted:
		return "task_completed"
	case ReasonTaskFailed:
		return "task_failed"
	case ReasonCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}
