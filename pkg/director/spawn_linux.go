//go:build linux

package director

import (
	"os/exec"
	"syscall"
)

// setParentDeathSignal arranges for the child to receive SIGTERM if the
// Director process dies without an orderly shutdown (spec §5).
func setParentDeathSignal(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGTERM}
}

// signalChild sends SIGTERM, the graceful-shutdown signal every
// participant listens for (spec §6).
func signalChild(cmd *exec.Cmd) error {
	return cmd.Process.Signal(syscall.SIGTERM)
}
