package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// State represents the state of a process.
type State int

const (
	// StateCreated indicates the process has been created but not started.
	StateCreated State = iota
	// StateRunning indicates the process is currently running.
	StateRunning
	// StateExited indicates the process has exited normally or with an error.
	StateExited
	// StateKilled indicates the process was ended by a signal.
	StateKilled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Process is a spawned command.
//
// Process is safe for concurrent use, subject to the stream ownership
// rules in the package documentation.
type Process struct {
	// ID is the unique identifier for this process.
	ID string

	// Descriptor is the description the process was spawned from.
	Descriptor Descriptor

	// Cmd is the underlying exec.Cmd.
	Cmd *exec.Cmd

	// Started is the time the process was started.
	Started time.Time

	stdout io.ReadCloser
	stderr io.ReadCloser

	diag     diagBuffer
	diagOnce sync.Once
	diagDone chan struct{}

	// done is closed once the process has been reaped.
	done chan struct{}

	state      atomic.Int32
	exitCode   atomic.Int32
	terminated atomic.Bool

	// mu protects exitErr and exited.
	mu      sync.RWMutex
	exitErr error
	exited  time.Time

	waitOnce sync.Once
}

func newProcess(id string, desc Descriptor, cmd *exec.Cmd) *Process {
	p := &Process{
		ID:         id,
		Descriptor: desc,
		Cmd:        cmd,
		diagDone:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	p.state.Store(int32(StateCreated))
	p.exitCode.Store(-1) // -1 indicates not exited
	return p
}

// State returns the current process state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// ExitCode returns the process exit code.
// Returns -1 if the process has not been reaped.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// exitError returns the raw error from reaping the process, if any.
func (p *Process) exitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// Done returns a channel that is closed once the process has been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// IsRunning returns true if the process has started and not been reaped.
func (p *Process) IsRunning() bool {
	return p.State() == StateRunning
}

// HasExited returns true if the process has been reaped.
func (p *Process) HasExited() bool {
	state := p.State()
	return state == StateExited || state == StateKilled
}

// PID returns the process ID, or -1 if not started.
func (p *Process) PID() int {
	if p.Cmd.Process == nil {
		return -1
	}
	return p.Cmd.Process.Pid
}

// Stdout returns the child's standard output, or nil when output is
// not captured.
func (p *Process) Stdout() io.Reader {
	if p.stdout == nil {
		return nil
	}
	return p.stdout
}

// Runtime returns how long the process ran, or has been running if it
// has not been reaped yet.
func (p *Process) Runtime() time.Duration {
	if p.Started.IsZero() {
		return 0
	}

	p.mu.RLock()
	exited := p.exited
	p.mu.RUnlock()

	if exited.IsZero() {
		return time.Since(p.Started)
	}
	return exited.Sub(p.Started)
}

// Terminate asks the process group to stop with SIGTERM.
// Only the first call signals; later calls and calls after the process
// has been reaped are no-ops. Terminate never blocks.
func (p *Process) Terminate() error {
	if p.HasExited() || !p.terminated.CompareAndSwap(false, true) {
		return nil
	}
	return p.signal(sigTerm)
}

// Kill sends SIGKILL to the process group.
func (p *Process) Kill() error {
	if p.HasExited() {
		return nil
	}
	return p.signal(sigKill)
}

func (p *Process) signal(sig signal) error {
	if p.Cmd.Process == nil {
		return ErrProcessNotStarted
	}
	if err := signalGroup(p.Cmd.Process, sig); err != nil {
		return fmt.Errorf("signal %v: %w", sig, err)
	}
	return nil
}

// CollectDiagnostics starts the stderr collector on first use and
// returns a channel that is closed when stderr reaches end of stream.
func (p *Process) CollectDiagnostics() <-chan struct{} {
	p.diagOnce.Do(func() {
		go func() {
			defer close(p.diagDone)
			_, _ = io.Copy(&p.diag, p.stderr)
		}()
	})
	return p.diagDone
}

// Diagnostics returns the stderr text captured so far.
func (p *Process) Diagnostics() []byte {
	return p.diag.Bytes()
}

// Wait blocks until the process exits and returns its exit code.
//
// A non-zero exit is reported through the code, not the error; the
// error is non-nil only when the process could not be waited on.
// Wait may be called repeatedly and concurrently; the result is cached.
func (p *Process) Wait() (int, error) {
	p.waitOnce.Do(p.reap)

	err := p.exitError()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return p.ExitCode(), err
	}
	return p.ExitCode(), nil
}

// reap collects the exit status. Cmd.Wait closes the pipes, so stderr
// must be fully read first.
func (p *Process) reap() {
	<-p.CollectDiagnostics()

	err := p.Cmd.Wait()
	code, state := exitStatus(err)

	p.mu.Lock()
	p.exitErr = err
	p.exited = time.Now()
	p.mu.Unlock()

	p.exitCode.Store(int32(code))
	p.state.Store(int32(state))
	close(p.done)
}

// DrainRemaining reads whatever is left on stdout and waits for the
// stderr collector to finish. It must only be called once the stdout
// consumer has stopped reading.
//
// If ctx expires first, the process group is killed so both pipes reach
// end of stream, and the returned error wraps ErrDrainTimeout. The
// bytes read are returned in every case.
func (p *Process) DrainRemaining(ctx context.Context) (stdout, stderr []byte, err error) {
	var rest bytes.Buffer

	outDone := make(chan error, 1)
	if p.stdout != nil {
		go func() {
			_, err := io.Copy(&rest, p.stdout)
			outDone <- err
		}()
	} else {
		outDone <- nil
	}
	diagDone := p.CollectDiagnostics()

	var errs []error
	expired := ctx.Done()
	for outDone != nil || diagDone != nil {
		select {
		case readErr := <-outDone:
			if readErr != nil && !errors.Is(readErr, os.ErrClosed) {
				errs = append(errs, fmt.Errorf("drain stdout: %w", readErr))
			}
			outDone = nil
		case <-diagDone:
			diagDone = nil
		case <-expired:
			expired = nil
			errs = append(errs, ErrDrainTimeout)
			if killErr := p.Kill(); killErr != nil {
				errs = append(errs, killErr)
			}
		}
	}

	return rest.Bytes(), p.Diagnostics(), errors.Join(errs...)
}

// exitStatus maps a Wait error to an exit code and final state.
func exitStatus(err error) (int, State) {
	if err == nil {
		return 0, StateExited
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1, StateExited
	}

	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return -int(status.Signal()), StateKilled
	}
	return exitErr.ExitCode(), StateExited
}

// diagBuffer is a bytes.Buffer safe for one writer and many readers.
type diagBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *diagBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *diagBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}
