//go:build unix

package process

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

type signal = unix.Signal

const (
	sigTerm signal = unix.SIGTERM
	sigKill signal = unix.SIGKILL
)

// sysProcAttr places the child in a new process group led by itself.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup delivers sig to every member of p's process group.
// A group that no longer exists is not an error.
func signalGroup(p *os.Process, sig signal) error {
	err := unix.Kill(-p.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
