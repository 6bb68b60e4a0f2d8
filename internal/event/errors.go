package event

import "errors"

// Sentinel errors for event delivery.
var (
	// ErrQueueClosed is returned by Put after the queue has been closed.
	ErrQueueClosed = errors.New("event queue is closed")

	// ErrNilSink is returned when a nil Sink is supplied where one is required.
	ErrNilSink = errors.New("nil event sink")
)
