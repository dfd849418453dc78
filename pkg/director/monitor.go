package director

import (
	"time"

	"github.com/cuemby/postoffice/pkg/health"
	"github.com/cuemby/postoffice/pkg/types"
)

// barrierStaleAfter and queueStaleAfter bound how long the Director
// tolerates a barrier below its required ready count, or a service queue
// pinned at ring capacity, before health.Monitor logs it as unhealthy.
// These are advisory: unlike monitorChildren's crash detection, a
// liveness warning never forces termination on its own.
const (
	barrierStaleAfter = 10 * time.Second
	queueStaleAfter   = 10 * time.Second
)

// healthMonitor builds the liveness-checker set the Director polls
// alongside its process-exit monitor: barrier progress, worker PID
// reachability, and per-service-type queue drainage.
func (d *Director) healthMonitor() *health.Monitor {
	checkers := []health.Checker{
		health.NewBarrierChecker(d.region, barrierStaleAfter),
		health.NewWorkerChecker(d.region),
	}
	for s := 0; s < d.cfg.Params.NumServiceTypes; s++ {
		checkers = append(checkers, health.NewQueueChecker(d.region, s, queueStaleAfter))
	}
	return health.NewMonitor(health.DefaultConfig(), checkers...)
}

// onUnhealthy logs the first transition of any liveness checker into an
// unhealthy state. It does not itself terminate the Director: a wedged
// participant is still a running process, which monitorChildren cannot
// see, so an operator watching these logs is the intended response.
func (d *Director) onUnhealthy(c health.Checker, s *health.Status) {
	d.logger.Error().
		Str("check", string(c.Type())).
		Str("message", s.LastResult.Message).
		Msg("participant liveness degraded")
}

// monitorChildren polls for unexpected child exits on a ticker, the same
// shape as a reconciliation loop: wake periodically, inspect state,
// continue. An unexpected exit before the Director itself is shutting
// down triggers a crash-reason termination.
func (d *Director) monitorChildren(stop <-chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.checkForCrashedChildren()
		case <-stop:
			return
		}
	}
}

func (d *Director) checkForCrashedChildren() {
	if d.shuttingDown.Load() {
		return
	}

	d.childrenMu.Lock()
	children := append([]*supervisedChild(nil), d.children...)
	d.childrenMu.Unlock()

	for _, sc := range children {
		select {
		case <-sc.exited:
			d.logger.Error().Str("child", sc.spec.Name).Err(sc.exitErr).Msg("child exited unexpectedly")
			d.terminate(types.TerminationCrash)
			return
		default:
		}
	}
}
