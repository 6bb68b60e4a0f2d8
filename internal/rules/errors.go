package rules

import "errors"

// Errors for rule evaluation.
var (
	// ErrEngineClosed is returned when evaluating on a closed engine.
	ErrEngineClosed = errors.New("rule engine is closed")

	// ErrNoCondition is returned when a script does not define condition(event).
	ErrNoCondition = errors.New("rule script does not define a condition function")
)
