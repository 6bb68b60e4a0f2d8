package process

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Supervisor spawns processes and tracks them until they are reaped.
//
// Shutdown is the safety net for a host that exits while children are
// still running. Supervisor is safe for concurrent use.
type Supervisor struct {
	mu        sync.RWMutex
	processes map[string]*Process

	// closed indicates the supervisor has been shut down
	closed atomic.Bool

	// onProcessExit is called when a process has been reaped
	onProcessExit func(p *Process)
}

// SupervisorOption configures a Supervisor instance.
type SupervisorOption func(*Supervisor)

// WithProcessExitCallback sets a callback for when processes are reaped.
func WithProcessExitCallback(fn func(p *Process)) SupervisorOption {
	return func(s *Supervisor) {
		s.onProcessExit = fn
	}
}

// NewSupervisor creates a new process supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		processes: make(map[string]*Process),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Spawn starts desc's command and returns immediately; nothing is read
// from the child here.
//
// Launch failures are returned as *SpawnError. If ctx is already done
// nothing is started and ctx.Err() is returned.
func (s *Supervisor) Spawn(ctx context.Context, desc Descriptor) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if desc.Command == "" {
		return nil, &SpawnError{Command: desc.Command, Err: ErrEmptyCommand}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check shutdown state under lock to prevent race
	if s.closed.Load() {
		return nil, &SpawnError{Command: desc.Command, Err: ErrSupervisorShutdown}
	}

	shell, args := desc.argv()
	cmd := exec.Command(shell, args...)
	cmd.Dir = desc.Dir
	cmd.Env = desc.environment()
	cmd.SysProcAttr = sysProcAttr()

	proc := newProcess(uuid.New().String(), desc, cmd)

	// Track created pipes for cleanup on error
	var createdPipes []interface{ Close() error }
	cleanupPipes := func() {
		for _, p := range createdPipes {
			_ = p.Close()
		}
	}

	if desc.CaptureOutput {
		stdoutPipe, err := cmd.StdoutPipe()
		if err != nil {
			return nil, &SpawnError{Command: desc.Command, Err: fmt.Errorf("create stdout pipe: %w", err)}
		}
		proc.stdout = stdoutPipe
		createdPipes = append(createdPipes, stdoutPipe)
	}

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		cleanupPipes()
		return nil, &SpawnError{Command: desc.Command, Err: fmt.Errorf("create stderr pipe: %w", err)}
	}
	proc.stderr = stderrPipe
	createdPipes = append(createdPipes, stderrPipe)

	// Start before tracking so failed starts are never tracked
	if err := cmd.Start(); err != nil {
		cleanupPipes()
		return nil, &SpawnError{Command: desc.Command, Err: err}
	}
	proc.Started = time.Now()
	proc.state.Store(int32(StateRunning))

	s.processes[proc.ID] = proc
	go s.monitorProcess(proc)

	return proc, nil
}

// monitorProcess removes a process from tracking once it is reaped.
func (s *Supervisor) monitorProcess(proc *Process) {
	<-proc.Done()

	if s.onProcessExit != nil {
		func() {
			// Callback panics must not take the supervisor down.
			defer func() { _ = recover() }()
			s.onProcessExit(proc)
		}()
	}

	s.mu.Lock()
	delete(s.processes, proc.ID)
	s.mu.Unlock()
}

// List returns all tracked processes.
func (s *Supervisor) List() []*Process {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		result = append(result, p)
	}
	return result
}

// Count returns the number of tracked processes.
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}

// Shutdown stops every tracked process.
//
// It sends SIGTERM to each process group and waits up to timeout for
// the processes to be reaped; stragglers are killed with SIGKILL.
// Shutdown blocks until all processes have been removed, and new
// spawns fail afterwards.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	if s.closed.Swap(true) {
		return // Already shutting down
	}

	procs := s.List()
	if len(procs) == 0 {
		return
	}

	for _, p := range procs {
		p := p // per-iteration copy (go directive is below 1.22)
		_ = p.Terminate()
		// Reap in the background; owners waiting concurrently share the result.
		go func() { _, _ = p.Wait() }()
	}

	done := make(chan struct{})
	go func() {
		for _, p := range procs {
			<-p.Done()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		for _, p := range procs {
			_ = p.Kill()
		}
		<-done
	}

	// Wait for monitor goroutines so Count() is 0 once Shutdown returns.
	s.waitForCleanup()
}

// waitForCleanup waits for all processes to be removed from the map.
func (s *Supervisor) waitForCleanup() {
	for {
		s.mu.RLock()
		count := len(s.processes)
		s.mu.RUnlock()
		if count == 0 {
			return
		}
		time.Sleep(1 * time.Millisecond)
	}
}
