package usersmanager

import (
	"os"
	"os/signal"
	"syscall"
)

// InstallSignalHandlers wires TERM/INT to a graceful RequestShutdown,
// USR1 to RaiseBatch, USR2 to LowerBatch, and ignores SIGPIPE, matching
// the spec's §6 signal table for the Users Manager.
func (m *Manager) InstallSignalHandlers() (stop func()) {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1, syscall.SIGUSR2)
	signal.Ignore(syscall.SIGPIPE)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigCh:
				switch sig {
				case syscall.SIGTERM, syscall.SIGINT:
					m.logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
					m.RequestShutdown()
				case syscall.SIGUSR1:
					m.logger.Info().Int("batch", m.cfg.NNewUsers).Msg("raising target population")
					m.RaiseBatch()
				case syscall.SIGUSR2:
					m.logger.Info().Int("batch", m.cfg.NNewUsers).Msg("lowering target population")
					m.LowerBatch()
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		signal.Stop(sigCh)
	}
}
