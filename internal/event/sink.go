package event

import "context"

// Sink accepts envelopes for ordered delivery.
//
// Put may block while the sink is at capacity. It must return promptly
// with ctx.Err() once ctx is cancelled. Any other error means the sink
// can no longer accept events; callers do not retry.
type Sink interface {
	Put(ctx context.Context, env Envelope) error
}

// SinkFunc is a function adapter for Sink.
type SinkFunc func(ctx context.Context, env Envelope) error

// Put implements the Sink interface.
func (f SinkFunc) Put(ctx context.Context, env Envelope) error {
	return f(ctx, env)
}

// Discard is a Sink that accepts and drops every envelope.
var Discard Sink = SinkFunc(func(ctx context.Context, _ Envelope) error {
	return ctx.Err()
})
