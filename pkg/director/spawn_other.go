//go:build !linux

package director

import "os/exec"

// setParentDeathSignal is a no-op outside Linux: Pdeathsig has no
// portable equivalent, so a crashed Director simply leaves children to
// their own SIGTERM handling.
func setParentDeathSignal(cmd *exec.Cmd) {}

// signalChild kills the child with cmd.Process.Kill: outside Linux no
// SIGTERM is sent, so the child gets no chance to shut down cleanly.
func signalChild(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
