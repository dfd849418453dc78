// Package loadbalancer implements the Director's optional per-check-cycle
// work rebalancing: find the most- and least-loaded service queues and,
// if the imbalance crosses a threshold, reassign one idle worker from the
// underloaded service to the overloaded one.
package loadbalancer

import (
	"sync/atomic"
	"time"

	"github.com/cuemby/postoffice/pkg/log"
	"github.com/cuemby/postoffice/pkg/metrics"
	"github.com/cuemby/postoffice/pkg/shm"
	"github.com/cuemby/postoffice/pkg/types"
	"github.com/rs/zerolog"
)

// LoadBalancer periodically inspects queue depths and worker assignments
// in the shared region, invoked by the Director on its simulated-minute
// schedule rather than on its own wall-clock ticker (the simulation's
// check_interval is expressed in simulated minutes, not real time).
type LoadBalancer struct {
	region *shm.Region
	cfg    types.LoadBalanceConfig
	logger zerolog.Logger
}

// New builds a LoadBalancer bound to region and configured per cfg.
func New(region *shm.Region, cfg types.LoadBalanceConfig) *LoadBalancer {
	return &LoadBalancer{region: region, cfg: cfg, logger: log.WithRole("load-balancer")}
}

// Check runs one rebalancing cycle (spec §4.9). It is a no-op unless
// cfg.Enabled, and does nothing beyond bumping ChecksPerformed when no
// imbalance clears the configured thresholds.
func (lb *LoadBalancer) Check() {
	if !lb.cfg.Enabled {
		return
	}

	stats := &lb.region.Hdr().LoadBalance
	atomic.AddUint64(&stats.ChecksPerformed, 1)
	metrics.LoadBalanceChecksTotal.Inc()

	overloaded, underloaded, maxDepth, minDepth := lb.findExtremes()
	if overloaded == underloaded {
		return
	}
	if maxDepth < int64(lb.cfg.MinQueueDepth) {
		return
	}

	ratio := computeRatio(maxDepth, minDepth, lb.cfg.MinQueueDepth)
	if ratio < float64(lb.cfg.ImbalanceThresholdPercent)/100.0 {
		return
	}

	worker := lb.findIdleWorker(underloaded)
	if worker == nil {
		return
	}

	atomic.StoreInt32(&worker.ServiceType, int32(overloaded))
	atomic.StoreUint32(&worker.ReassignmentPending, 1)
	shm.NewCond(&lb.region.Queue(overloaded).CondAdded).Broadcast()

	atomic.AddUint64(&stats.RebalancesTriggered, 1)
	atomic.AddUint64(&stats.WorkersReassigned, 1)
	metrics.LoadBalanceRebalancesTotal.Inc()
	metrics.LoadBalanceWorkersReassignedTotal.Inc()

	lb.logger.Info().
		Int("from_service", underloaded).
		Int("to_service", overloaded).
		Int64("max_depth", maxDepth).
		Int64("min_depth", minDepth).
		Msg("reassigned worker to relieve imbalance")
}

// computeRatio matches the spec's special case: with min==0, treat the
// ratio as "large enough" once max alone clears min_queue_depth, and as
// zero otherwise.
func computeRatio(max, min int64, minQueueDepth int) float64 {
	if min == 0 {
		if max >= int64(minQueueDepth) {
			return float64(max + 1) // "large" — guaranteed to clear any sane threshold expressed as a fraction
		}
		return 0
	}
	return float64(max) / float64(min)
}

func (lb *LoadBalancer) findExtremes() (overloaded, underloaded int, maxDepth, minDepth int64) {
	n := lb.region.Params().NumServiceTypes
	maxDepth = -1
	minDepth = -1
	for s := 0; s < n; s++ {
		depth := shm.Depth(lb.region.Queue(s))
		if maxDepth == -1 || depth > maxDepth {
			maxDepth = depth
			overloaded = s
		}
		if minDepth == -1 || depth < minDepth {
			minDepth = depth
			underloaded = s
		}
	}
	return
}

func (lb *LoadBalancer) findIdleWorker(serviceType int) *shm.WorkerRecord {
	n := lb.region.NWorkers()
	for i := 0; i < n; i++ {
		w := lb.region.Worker(i)
		if atomic.LoadUint32(&w.State) == uint32(types.WorkerFree) &&
			atomic.LoadInt32(&w.ServiceType) == int32(serviceType) {
			return w
		}
	}
	return nil
}

// RunTicker drives Check on a wall-clock interval derived from
// check_interval_minutes and the simulation's tick_nanos — used by
// callers that prefer a background goroutine to an explicit per-tick
// call from the Director's own clock loop.
func RunTicker(lb *LoadBalancer, interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			lb.Check()
		case <-stop:
			return
		}
	}
}
