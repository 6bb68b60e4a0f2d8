// Package adapter runs a shell command as an event source.
//
// An Adapter spawns the command, decodes its stdout into envelopes for
// a sink (when output is captured), collects its stderr, and reports how
// it ended. Host cancellation is absorbed: the process group is asked to
// stop, remaining output is drained within a bound, and Run returns an
// Outcome instead of an error.
package adapter

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/dshills/cmdsource/internal/decoder"
	"github.com/dshills/cmdsource/internal/event"
	"github.com/dshills/cmdsource/internal/logging"
	"github.com/dshills/cmdsource/internal/process"
)

// DefaultDrainTimeout bounds the drain after cancellation.
const DefaultDrainTimeout = 5 * time.Second

// Outcome reports how a run ended.
type Outcome struct {
	// Command is the command text that was run.
	Command string

	// PID is the operating system process ID.
	PID int

	// ExitCode is the child's exit code; negative when ended by a signal.
	ExitCode int

	// Diagnostics is everything the child wrote to stderr.
	Diagnostics string

	// Canceled reports that the host cancelled the run.
	Canceled bool

	// Events is the number of envelopes the sink accepted.
	Events int

	// DecodeErrors is the number of stdout lines skipped as malformed.
	DecodeErrors int

	// RemainingStdout is output left unread when the run was stopped.
	RemainingStdout []byte

	// Duration is the wall time from spawn to reap.
	Duration time.Duration
}

// Failure returns the ProcessFailure for a non-zero exit, or nil.
func (o *Outcome) Failure() *ProcessFailure {
	if o == nil || o.ExitCode == 0 {
		return nil
	}
	return &ProcessFailure{
		Command:     o.Command,
		ExitCode:    o.ExitCode,
		Diagnostics: o.Diagnostics,
	}
}

// Adapter runs one command. Create it with New; it is single-use.
type Adapter struct {
	supervisor   *process.Supervisor
	desc         process.Descriptor
	sink         event.Sink
	logger       logging.Logger
	drainTimeout time.Duration
	maxLineSize  int

	state atomic.Int32
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l logging.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithDrainTimeout bounds the drain after cancellation.
func WithDrainTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.drainTimeout = d
		}
	}
}

// WithSupervisor spawns through s instead of a private supervisor.
func WithSupervisor(s *process.Supervisor) Option {
	return func(a *Adapter) {
		if s != nil {
			a.supervisor = s
		}
	}
}

// WithMaxLineSize bounds a single stdout line.
func WithMaxLineSize(n int) Option {
	return func(a *Adapter) {
		a.maxLineSize = n
	}
}

// New creates an adapter for desc delivering to sink.
func New(desc process.Descriptor, sink event.Sink, opts ...Option) *Adapter {
	a := &Adapter{
		desc:         desc,
		sink:         sink,
		logger:       logging.Nop(),
		drainTimeout: DefaultDrainTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.supervisor == nil {
		a.supervisor = process.NewSupervisor()
	}
	return a
}

// State returns the current lifecycle state.
func (a *Adapter) State() State {
	return State(a.state.Load())
}

func (a *Adapter) setState(s State) {
	a.state.Store(int32(s))
}

// Run spawns the command and blocks until it has been reaped.
//
// A non-zero exit is logged once and reported through
// Outcome.Failure; it is not an error. Cancelling ctx stops the
// process and still returns an Outcome, with Canceled set.
//
// Run returns an error only when the command could not be spawned
// (*process.SpawnError) or the sink refused an event
// (*decoder.DeliveryError). In the latter case the process has been
// stopped and the Outcome is returned alongside the error.
func (a *Adapter) Run(ctx context.Context) (*Outcome, error) {
	if !a.state.CompareAndSwap(int32(StateIdle), int32(StateSpawned)) {
		return nil, ErrAlreadyRun
	}
	if a.desc.CaptureOutput && a.sink == nil {
		a.setState(StateTerminated)
		return nil, event.ErrNilSink
	}

	out := &Outcome{Command: a.desc.Command, ExitCode: -1}

	proc, err := a.supervisor.Spawn(ctx, a.desc)
	if err != nil {
		a.setState(StateTerminated)
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			a.logger.Info("canceled before start", "command", a.desc.Command)
			out.ExitCode = 0
			out.Canceled = true
			return out, nil
		}
		a.logger.Error("failed to start process", "command", a.desc.Command, "error", err)
		return nil, err
	}
	out.PID = proc.PID()

	a.logger.Info("process started", "command", a.desc.Command, "pid", out.PID)

	var runErr error
	if a.desc.CaptureOutput {
		runErr = a.capture(ctx, proc, out)
	} else {
		a.discard(ctx, proc, out)
	}

	code, err := proc.Wait()
	a.setState(StateTerminated)
	out.ExitCode = code
	out.Diagnostics = string(proc.Diagnostics())
	out.Duration = proc.Runtime()
	if err != nil {
		a.logger.Error("failed to wait for process", "command", a.desc.Command, "error", err)
	}

	a.logger.Info("process finished",
		"command", a.desc.Command,
		"code", out.ExitCode,
		"events", out.Events,
		"duration", out.Duration,
	)

	if f := out.Failure(); f != nil {
		a.logger.Error("command failed",
			"command", f.Command,
			"code", f.ExitCode,
			"diagnostics", f.Diagnostics,
		)
	}

	return out, runErr
}

// discard waits for stderr to close while stdout goes to the null device.
func (a *Adapter) discard(ctx context.Context, proc *process.Process, out *Outcome) {
	a.setState(StateDiscarding)

	select {
	case <-proc.CollectDiagnostics():
	case <-ctx.Done():
		out.Canceled = true
		a.logger.Info("host is shutting down, stopping process", "command", a.desc.Command)
		a.stop(proc, out, nil, nil)
	}
}

type decodeResult struct {
	stats decoder.Stats
	err   error
}

// capture decodes stdout into the sink while stderr is collected, and
// returns once both streams are done or the run has been stopped.
func (a *Adapter) capture(ctx context.Context, proc *process.Process, out *Outcome) error {
	a.setState(StateCapturing)

	// The decoder outlives ctx so it can be stopped in order during
	// cancellation; stopDecode releases a Put blocked on a full sink.
	decodeCtx, stopDecode := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDecode()

	dec := &decoder.Decoder{
		Command:     a.desc.Command,
		Deserialize: a.desc.Deserialize,
		Logger:      a.logger,
		MaxLineSize: a.maxLineSize,
	}

	decoded := make(chan decodeResult, 1)
	go func() {
		stats, err := dec.Decode(decodeCtx, proc.Stdout(), a.sink)
		decoded <- decodeResult{stats: stats, err: err}
	}()
	diagDone := proc.CollectDiagnostics()

	for decoded != nil || diagDone != nil {
		select {
		case res := <-decoded:
			out.Events += res.stats.Events
			out.DecodeErrors += res.stats.DecodeErrors
			decoded = nil

			var deliveryErr *decoder.DeliveryError
			var streamErr *decoder.StreamError
			switch {
			case errors.As(res.err, &deliveryErr):
				a.logger.Error("event delivery failed, stopping process",
					"command", a.desc.Command,
					"error", res.err,
				)
				stopDecode()
				a.stop(proc, out, nil, res.stats.Unread)
				return res.err

			case errors.As(res.err, &streamErr):
				a.logger.Error("failed to read output, discarding the rest",
					"command", a.desc.Command,
					"error", res.err,
				)
				decoded = discardRest(proc.Stdout())

			case res.err != nil:
				a.logger.Error("decoder stopped", "command", a.desc.Command, "error", res.err)
				decoded = discardRest(proc.Stdout())
			}

		case <-diagDone:
			diagDone = nil

		case <-ctx.Done():
			out.Canceled = true
			a.logger.Info("host is shutting down, stopping process", "command", a.desc.Command)
			stopDecode()
			a.stop(proc, out, decoded, nil)
			return nil
		}
	}

	return nil
}

// stop terminates the process group and drains both streams within the
// drain bound, escalating to SIGKILL when it expires. decoded, when
// non-nil, is the still-running stdout consumer; it is joined before
// the rest of stdout is read. unread is output the consumer already
// took off the pipe without delivering; it precedes the drained bytes
// in Outcome.RemainingStdout.
func (a *Adapter) stop(proc *process.Process, out *Outcome, decoded <-chan decodeResult, unread []byte) {
	a.setState(StateCancelling)

	if err := proc.Terminate(); err != nil {
		a.logger.Warn("failed to terminate process", "command", a.desc.Command, "error", err)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), a.drainTimeout)
	defer cancel()

	killed := false
	if decoded != nil {
		var res decodeResult
		select {
		case res = <-decoded:
		case <-drainCtx.Done():
			killed = true
			_ = proc.Kill()
			res = <-decoded
		}
		out.Events += res.stats.Events
		out.DecodeErrors += res.stats.DecodeErrors
		unread = res.stats.Unread
	}

	remaining, _, err := proc.DrainRemaining(drainCtx)
	out.RemainingStdout = append(unread, remaining...)
	if killed || errors.Is(err, process.ErrDrainTimeout) {
		a.logger.Warn("process did not stop in time, killed",
			"command", a.desc.Command,
			"timeout", a.drainTimeout,
		)
	} else if err != nil {
		a.logger.Warn("drain failed", "command", a.desc.Command, "error", err)
	}
}

// discardRest consumes the rest of stdout so the child never blocks on
// a full pipe. The result carries no stats.
func discardRest(r io.Reader) chan decodeResult {
	done := make(chan decodeResult, 1)
	go func() {
		_, _ = io.Copy(io.Discard, r)
		done <- decodeResult{}
	}()
	return done
}
