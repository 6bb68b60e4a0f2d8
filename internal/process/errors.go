package process

import (
	"errors"
	"fmt"
)

// Sentinel errors for the process package.
var (
	// ErrEmptyCommand is returned when a descriptor has no command text.
	ErrEmptyCommand = errors.New("empty command")

	// ErrProcessNotStarted is returned when operations require a started process.
	ErrProcessNotStarted = errors.New("process not started")

	// ErrSupervisorShutdown is returned when the supervisor is shutting down.
	ErrSupervisorShutdown = errors.New("supervisor is shutting down")

	// ErrDrainTimeout is returned by DrainRemaining when the drain bound
	// expired and the process group had to be killed.
	ErrDrainTimeout = errors.New("drain timed out; process group killed")
)

// SpawnError reports that a command could not be launched.
// Nothing has been started when it is returned.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
