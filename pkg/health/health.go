package health

import (
	"context"
	"fmt"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cuemby/postoffice/pkg/shm"
	"github.com/cuemby/postoffice/pkg/types"
)

// CheckType identifies which liveness probe produced a Result.
type CheckType string

const (
	CheckTypeBarrier CheckType = "barrier"
	CheckTypeWorker  CheckType = "worker"
	CheckTypeQueue   CheckType = "queue"
)

// Result is the outcome of one liveness check.
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface every liveness probe implements.
type Checker interface {
	Check(ctx context.Context) Result
	Type() CheckType
}

// Config bounds how many consecutive failures a Status tolerates before
// flipping unhealthy, preventing a single slow tick from paging anyone.
type Config struct {
	Interval time.Duration
	Retries  int
}

// DefaultConfig returns Director-appropriate defaults.
func DefaultConfig() Config {
	return Config{Interval: 2 * time.Second, Retries: 3}
}

// Status tracks hysteresis for one Checker across repeated runs.
type Status struct {
	ConsecutiveFailures int
	LastCheck           time.Time
	LastResult          Result
	Healthy             bool
}

// NewStatus creates a Status optimistically healthy until proven otherwise.
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update folds result into the status, matching on config.Retries.
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result
	if result.Healthy {
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}
	s.ConsecutiveFailures++
	if s.ConsecutiveFailures >= config.Retries {
		s.Healthy = false
	}
}

// BarrierChecker flags a day-start barrier that has been active (waiting
// for stragglers) longer than staleAfter, meaning some registered
// participant has not joined.
type BarrierChecker struct {
	region     *shm.Region
	staleAfter time.Duration
	activeSince time.Time
	wasActive  bool
}

// NewBarrierChecker builds a checker that flags a barrier stuck active
// for longer than staleAfter.
func NewBarrierChecker(region *shm.Region, staleAfter time.Duration) *BarrierChecker {
	return &BarrierChecker{region: region, staleAfter: staleAfter}
}

func (c *BarrierChecker) Type() CheckType { return CheckTypeBarrier }

func (c *BarrierChecker) Check(_ context.Context) Result {
	start := time.Now()
	b := &c.region.Hdr().Barrier
	active := atomic.LoadUint32(&b.BarrierActive) == 1

	if !active {
		c.wasActive = false
		return Result{Healthy: true, Message: "barrier idle", CheckedAt: start, Duration: time.Since(start)}
	}
	if !c.wasActive {
		c.wasActive = true
		c.activeSince = start
	}

	ready := atomic.LoadInt32(&b.ReadyCount)
	required := atomic.LoadInt32(&b.RequiredCount)
	waited := start.Sub(c.activeSince)
	if waited < c.staleAfter {
		return Result{Healthy: true, CheckedAt: start, Duration: time.Since(start),
			Message: fmt.Sprintf("barrier active %s, %d/%d ready", waited.Round(time.Millisecond), ready, required)}
	}
	return Result{
		Healthy:   false,
		Message:   fmt.Sprintf("barrier stuck %s: %d/%d ready", waited.Round(time.Second), ready, required),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// WorkerChecker signal-probes every worker record's registered PID with
// signal 0 (the standard "is this process alive" idiom: delivering no
// actual signal, only checking whether the kernel would allow it).
type WorkerChecker struct {
	region *shm.Region
}

// NewWorkerChecker builds a checker over region's worker records.
func NewWorkerChecker(region *shm.Region) *WorkerChecker {
	return &WorkerChecker{region: region}
}

func (c *WorkerChecker) Type() CheckType { return CheckTypeWorker }

func (c *WorkerChecker) Check(_ context.Context) Result {
	start := time.Now()
	var dead []int32
	for i := 0; i < c.region.NWorkers(); i++ {
		w := c.region.Worker(i)
		pid := atomic.LoadInt32(&w.PID)
		if pid == 0 {
			continue // not yet registered
		}
		if err := syscall.Kill(int(pid), 0); err != nil {
			dead = append(dead, pid)
		}
	}
	if len(dead) == 0 {
		return Result{Healthy: true, Message: "all registered worker PIDs alive", CheckedAt: start, Duration: time.Since(start)}
	}
	return Result{
		Healthy:   false,
		Message:   fmt.Sprintf("%d worker PID(s) unreachable: %v", len(dead), dead),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// QueueChecker flags a service queue pinned at full ring capacity across
// consecutive checks, a sign no worker is draining it.
type QueueChecker struct {
	region      *shm.Region
	serviceType int
	pinnedSince time.Time
	wasPinned   bool
	staleAfter  time.Duration
}

// NewQueueChecker builds a checker for one service type's queue.
func NewQueueChecker(region *shm.Region, serviceType int, staleAfter time.Duration) *QueueChecker {
	return &QueueChecker{region: region, serviceType: serviceType, staleAfter: staleAfter}
}

func (c *QueueChecker) Type() CheckType { return CheckTypeQueue }

func (c *QueueChecker) Check(_ context.Context) Result {
	start := time.Now()
	q := c.region.Queue(c.serviceType)
	depth := shm.Depth(q)

	if depth < types.QueueRingCapacity {
		c.wasPinned = false
		return Result{Healthy: true, Message: fmt.Sprintf("queue %d depth %d/%d", c.serviceType, depth, types.QueueRingCapacity),
			CheckedAt: start, Duration: time.Since(start)}
	}
	if !c.wasPinned {
		c.wasPinned = true
		c.pinnedSince = start
	}
	pinnedFor := start.Sub(c.pinnedSince)
	if pinnedFor < c.staleAfter {
		return Result{Healthy: true, Message: fmt.Sprintf("queue %d at capacity for %s", c.serviceType, pinnedFor.Round(time.Millisecond)),
			CheckedAt: start, Duration: time.Since(start)}
	}
	return Result{
		Healthy:   false,
		Message:   fmt.Sprintf("queue %d pinned at capacity for %s, no worker draining it", c.serviceType, pinnedFor.Round(time.Second)),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
