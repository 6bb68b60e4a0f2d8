package process

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewSupervisor(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	if s.Count() != 0 {
		t.Errorf("expected 0 processes, got %d", s.Count())
	}
}

func TestSupervisor_Spawn(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	proc := spawn(t, s, Descriptor{Command: "sleep 0.1"})

	if proc.ID == "" {
		t.Error("expected non-empty process ID")
	}
	if proc.PID() <= 0 {
		t.Errorf("expected a pid, got %d", proc.PID())
	}
	if !proc.IsRunning() {
		t.Errorf("expected running, got %v", proc.State())
	}
	if list := s.List(); len(list) != 1 || list[0] != proc {
		t.Errorf("expected the process to be tracked, got %v", list)
	}

	_, _ = proc.Wait()

	// Give the monitor time to untrack.
	time.Sleep(50 * time.Millisecond)
	if s.Count() != 0 {
		t.Errorf("expected 0 processes after exit, got %d", s.Count())
	}
}

func TestSupervisor_SpawnErrors(t *testing.T) {
	tests := []struct {
		name    string
		desc    Descriptor
		wantErr error
	}{
		{name: "empty command", desc: Descriptor{}, wantErr: ErrEmptyCommand},
		{name: "missing shell", desc: Descriptor{Command: "true", Shell: "/nonexistent/shell"}},
		{name: "missing dir", desc: Descriptor{Command: "true", Dir: "/nonexistent/dir"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSupervisor()
			defer s.Shutdown(time.Second)

			_, err := s.Spawn(context.Background(), tt.desc)

			var spawnErr *SpawnError
			if !errors.As(err, &spawnErr) {
				t.Fatalf("expected *SpawnError, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if s.Count() != 0 {
				t.Error("failed spawns must not be tracked")
			}
		})
	}
}

func TestSupervisor_SpawnCanceledContext(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Spawn(ctx, Descriptor{Command: "true"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSupervisor_WithProcessExitCallback(t *testing.T) {
	var called atomic.Bool
	var exitedID atomic.Value

	s := NewSupervisor(WithProcessExitCallback(func(p *Process) {
		exitedID.Store(p.ID)
		called.Store(true)
	}))
	defer s.Shutdown(time.Second)

	proc := spawn(t, s, Descriptor{Command: "true"})
	_, _ = proc.Wait()

	time.Sleep(50 * time.Millisecond)

	if !called.Load() {
		t.Fatal("exit callback was not called")
	}
	if exitedID.Load() != proc.ID {
		t.Error("callback received wrong process")
	}
}

func TestSupervisor_Shutdown(t *testing.T) {
	s := NewSupervisor()

	a := spawn(t, s, Descriptor{Command: "sleep 10"})
	b := spawn(t, s, Descriptor{Command: "trap '' TERM; sleep 10"})
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	s.Shutdown(200 * time.Millisecond)

	if time.Since(start) > 3*time.Second {
		t.Errorf("shutdown took %v", time.Since(start))
	}
	if s.Count() != 0 {
		t.Errorf("expected 0 processes after shutdown, got %d", s.Count())
	}
	if !a.HasExited() || !b.HasExited() {
		t.Error("all processes should be reaped")
	}
	if b.ExitCode() != -9 {
		t.Errorf("TERM-ignoring process exit code = %d, want -9", b.ExitCode())
	}

	_, err := s.Spawn(context.Background(), Descriptor{Command: "true"})
	if !errors.Is(err, ErrSupervisorShutdown) {
		t.Errorf("expected ErrSupervisorShutdown, got %v", err)
	}

	// Second call is a no-op.
	s.Shutdown(time.Second)
}
