//go:build !unix

package process

import (
	"errors"
	"os"
	"syscall"
)

type signal = os.Signal

var (
	sigTerm signal = os.Kill
	sigKill signal = os.Kill
)

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

// signalGroup signals the child only; there are no process groups here.
func signalGroup(p *os.Process, sig signal) error {
	err := p.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
