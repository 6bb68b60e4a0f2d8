// Package event defines the unit cmdsource forwards downstream and the
// delivery contract it is forwarded through.
//
// An Envelope pairs a decoded payload with metadata about the command that
// produced it. Envelopes are handed to a Sink, the single capability the
// adapter needs from its consumer:
//
//	type Sink interface {
//	    Put(ctx context.Context, env Envelope) error
//	}
//
// Put may block while the consumer is saturated; that is how backpressure
// reaches the child process. Delivery order is enqueue order.
//
// # Queue
//
// Queue is the bundled bounded Sink, backed by a buffered channel:
//
//	q := event.NewQueue(1024)
//	go func() {
//	    for env := range q.Events() {
//	        handle(env)
//	    }
//	}()
//	err := q.Put(ctx, env) // blocks while 1024 envelopes are pending
//
// # Wire Shape
//
// Envelope.MarshalJSON renders the record consumed by rule hosts:
//
//	{"cmd": <payload>, "meta": {"command": "<command text>"}}
package event
