package adapter

import (
	"errors"
	"fmt"
)

// Sentinel errors for the adapter package.
var (
	// ErrAlreadyRun is returned when Run is called more than once.
	ErrAlreadyRun = errors.New("adapter already run")
)

// ProcessFailure describes a command that exited with a non-zero code.
// It is reported, never retried.
type ProcessFailure struct {
	Command     string
	ExitCode    int
	Diagnostics string
}

func (e *ProcessFailure) Error() string {
	return fmt.Sprintf("command failed with code %d: %s", e.ExitCode, e.Diagnostics)
}
