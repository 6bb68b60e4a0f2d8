package adapter

import "fmt"

// State is the lifecycle stage of a run.
type State int32

const (
	// StateIdle is the state before Run.
	StateIdle State = iota
	// StateSpawned means the command is running and no stream is being consumed yet.
	StateSpawned
	// StateDiscarding means stdout is discarded while stderr is collected.
	StateDiscarding
	// StateCapturing means stdout is being decoded into the sink.
	StateCapturing
	// StateCancelling means the process is being stopped and drained.
	StateCancelling
	// StateTerminated means the process has been reaped.
	StateTerminated
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpawned:
		return "spawned"
	case StateDiscarding:
		return "discarding"
	case StateCapturing:
		return "capturing"
	case StateCancelling:
		return "cancelling"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}
