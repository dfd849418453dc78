package director

import (
	"os"
	"os/signal"
	"syscall"
)

// InstallSignalHandlers wires TERM/INT to a graceful RequestShutdown and
// ignores SIGPIPE, matching the spec's §6 signal table for the Director.
// SIGCHLD needs no explicit handler here: each spawned child is reaped by
// its own cmd.Wait goroutine (spawn.go), which is the idiomatic Go
// equivalent of a SIGCHLD-driven non-blocking wait loop.
func (d *Director) InstallSignalHandlers() (stop func()) {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	signal.Ignore(syscall.SIGPIPE)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			d.logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			d.RequestShutdown()
		case <-done:
		}
	}()

	return func() {
		close(done)
		signal.Stop(sigCh)
	}
}
