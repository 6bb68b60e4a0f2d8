package decoder

import (
	"errors"
	"fmt"

	"github.com/dshills/cmdsource/internal/event"
)

// Sentinel errors for the decoder package.
var (
	// ErrMalformedJSON is returned when a line is not a valid JSON document.
	ErrMalformedJSON = errors.New("malformed JSON")

	// ErrNilSink is returned when Decode is called without a sink.
	ErrNilSink = errors.New("decoder: nil sink")
)

// DecodeError reports a stdout line that could not be decoded.
// It is logged and the line skipped; it never ends a run.
type DecodeError struct {
	// Line is the offending text, terminator stripped.
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode line %q: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DeliveryError reports that the sink refused an envelope while the
// run was still live.
type DeliveryError struct {
	Envelope event.Envelope
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver event: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// StreamError reports a failure reading the output stream itself,
// such as a line longer than the configured maximum.
type StreamError struct {
	// Line is the number of complete lines read before the failure.
	Line int
	Err  error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("read stream after line %d: %v", e.Line, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}
