package director

import (
	"fmt"
	"os/exec"
)

// spawnChildren starts every configured child process with a parent-death
// signal so each terminates if the Director dies unexpectedly (spec §5:
// "Director forks+execs children with a parent-death signal").
func (d *Director) spawnChildren() error {
	d.childrenMu.Lock()
	defer d.childrenMu.Unlock()

	for _, spec := range d.cfg.Children {
		cmd := exec.Command(spec.Path, spec.Args...)
		cmd.Env = append(cmd.Env[:0:0], cmd.Environ()...)
		setParentDeathSignal(cmd)

		if err := cmd.Start(); err != nil {
			return fmt.Errorf("director: spawn %s: %w", spec.Name, err)
		}

		sc := &supervisedChild{spec: spec, cmd: cmd, exited: make(chan struct{})}
		d.children = append(d.children, sc)

		go func(sc *supervisedChild) {
			sc.exitErr = sc.cmd.Wait()
			close(sc.exited)
		}(sc)

		d.logger.Info().Str("child", spec.Name).Int("pid", cmd.Process.Pid).Msg("spawned child process")
	}
	return nil
}

// stopChildren asks every still-running child to terminate gracefully.
func (d *Director) stopChildren() {
	d.childrenMu.Lock()
	defer d.childrenMu.Unlock()

	for _, sc := range d.children {
		select {
		case <-sc.exited:
			continue
		default:
		}
		if sc.cmd.Process != nil {
			_ = signalChild(sc.cmd)
		}
	}
}

// waitChildren blocks until every spawned child has exited, recording an
// unexpected exit as a crash in the run report.
func (d *Director) waitChildren() {
	d.childrenMu.Lock()
	children := append([]*supervisedChild(nil), d.children...)
	d.childrenMu.Unlock()

	for _, sc := range children {
		<-sc.exited
		entry := ChildExit{Name: sc.spec.Name}
		if sc.cmd.ProcessState != nil {
			entry.ExitCode = sc.cmd.ProcessState.ExitCode()
		}
		if sc.exitErr != nil && entry.ExitCode > 0 {
			entry.Crashed = true
		}
		d.report.Children = append(d.report.Children, entry)
	}
}
