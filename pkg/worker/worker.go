// Package worker implements the Worker Service Loop (spec §4.7): a
// multi-threaded worker-host process that registers n_workers goroutines
// in the shared region, each popping tickets for its assigned service
// type, simulating service, and marking completion, while participating
// in the Director's day-start barrier as a single logical participant.
package worker

import (
	"context"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/postoffice/pkg/barrier"
	"github.com/cuemby/postoffice/pkg/broker"
	"github.com/cuemby/postoffice/pkg/log"
	"github.com/cuemby/postoffice/pkg/metrics"
	"github.com/cuemby/postoffice/pkg/shm"
	"github.com/cuemby/postoffice/pkg/types"
	"github.com/rs/zerolog"
)

// serviceChunk is how finely simulated service is sliced so a worker can
// recheck the clock and the barrier between chunks (spec §4.7 step 3d:
// "sleep in small increments (~10 ms chunks)").
const serviceChunk = 10 * time.Millisecond

// popTimeout bounds how long a worker blocks waiting for a ticket before
// rechecking shutdown/barrier state.
const popTimeout = 200 * time.Millisecond

// Config configures one worker-host process.
type Config struct {
	Region *shm.Region

	// StartIndex is the first worker-record slot this host owns; workers
	// occupy [StartIndex, StartIndex+Count) in the shared region.
	StartIndex int
	Count      int

	// InitialServiceType assigns a starting service type to the
	// localIndex'th worker on this host (round-robin is typical).
	InitialServiceType func(localIndex int) int

	// ServiceMinMs/ServiceMaxMs bound the randomized per-ticket service
	// duration (spec §6 [users] P_SERV_MIN/P_SERV_MAX, reused here as the
	// only place in the system that actually simulates service time).
	ServiceMinMs int
	ServiceMaxMs int

	// BrokerSocketPath, if non-empty, routes ticket acquisition through
	// the Work Broker's GET_WORK instead of the shared-memory ring (spec
	// §4.5: "its internal queues replace the ring buffers of §4.6 for
	// participating workers").
	BrokerSocketPath string

	// RunID, if set, tags this host's log lines so multiple simulation
	// runs on one machine stay distinguishable.
	RunID string
}

// Host runs Config.Count worker goroutines inside one OS process.
type Host struct {
	cfg     Config
	region  *shm.Region
	barrier *barrier.Participant
	hostBar *hostBarrier
	logger  zerolog.Logger

	shuttingDown atomic.Bool
}

// New builds a Host ready to Run.
func New(cfg Config) *Host {
	logger := log.WithRole("workerhost")
	if cfg.RunID != "" {
		logger = logger.With().Str("run_id", cfg.RunID).Logger()
	}
	return &Host{
		cfg:     cfg,
		region:  cfg.Region,
		barrier: barrier.NewParticipant(cfg.Region, "worker-host"),
		hostBar: newHostBarrier(),
		logger:  logger,
	}
}

// Shutdown requests every worker goroutine on this host to stop at its
// next opportunity (end of a service chunk, or while waiting on a ticket
// or the barrier).
func (h *Host) Shutdown() {
	h.shuttingDown.Store(true)
	h.hostBar.release()
}

func (h *Host) shouldStop(ctx context.Context) bool {
	if h.shuttingDown.Load() {
		return true
	}
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Run starts every worker goroutine and blocks until ctx is cancelled or
// Shutdown is called and every goroutine has set itself OFFLINE.
func (h *Host) Run(ctx context.Context) {
	var brokerClient *broker.Client
	if h.cfg.BrokerSocketPath != "" {
		c, err := broker.Dial(h.cfg.BrokerSocketPath, 2*time.Second)
		if err != nil {
			h.logger.Error().Err(err).Msg("failed to dial work broker, falling back to shared-memory rings")
		} else {
			brokerClient = c
			defer c.Close()
		}
	}

	var wg sync.WaitGroup
	wg.Add(h.cfg.Count)
	for i := 0; i < h.cfg.Count; i++ {
		i := i
		go func() {
			defer wg.Done()
			h.runWorker(ctx, i, brokerClient)
		}()
	}

	go func() {
		<-ctx.Done()
		h.Shutdown()
	}()

	wg.Wait()
}

// runWorker is one worker goroutine's entire lifetime (spec §4.7).
func (h *Host) runWorker(ctx context.Context, localIndex int, brokerClient *broker.Client) {
	slot := h.cfg.StartIndex + localIndex
	rec := h.region.Worker(slot)
	logger := h.logger.With().Int("worker_id", slot).Logger()

	serviceType := h.cfg.InitialServiceType(localIndex)
	atomic.StoreInt32(&rec.PID, int32(os.Getpid()))
	atomic.StoreInt32(&rec.ServiceType, int32(serviceType))
	atomic.StoreUint32(&rec.CurrentTicket, 0)
	atomic.StoreUint32(&rec.State, uint32(types.WorkerFree))

	representative := localIndex == 0
	var hostGen uint64

	for !h.shouldStop(ctx) {
		if representative {
			h.barrier.MaybeJoin(func() bool { return h.shouldStop(ctx) })
			h.hostBar.release()
		} else {
			hostGen = h.hostBar.waitNext(hostGen)
		}
		if h.shouldStop(ctx) {
			break
		}

		h.servicePhase(ctx, rec, &serviceType, logger, brokerClient)
	}

	atomic.StoreUint32(&rec.State, uint32(types.WorkerOffline))
}

// servicePhase runs until the Director raises the day barrier again or
// shutdown is requested (spec §4.7 step 3).
func (h *Host) servicePhase(ctx context.Context, rec *shm.WorkerRecord, serviceType *int, logger zerolog.Logger, brokerClient *broker.Client) {
	b := &h.region.Hdr().Barrier
	for {
		if h.shouldStop(ctx) || atomic.LoadUint32(&b.BarrierActive) == 1 {
			return
		}

		if atomic.CompareAndSwapUint32(&rec.ReassignmentPending, 1, 0) {
			*serviceType = int(atomic.LoadInt32(&rec.ServiceType))
			logger.Info().Int("service_type", *serviceType).Msg("reassigned to new service type")
		}

		ticket, ok := h.nextTicket(*serviceType, int32(os.Getpid()), brokerClient)
		if !ok {
			continue
		}

		h.serveTicket(ctx, rec, *serviceType, ticket, logger)
	}
}

// nextTicket pops the next ticket for serviceType, either from the Work
// Broker (if configured) or the shared-memory ring (spec §4.7 step 3b).
func (h *Host) nextTicket(serviceType int, workerPID int32, brokerClient *broker.Client) (types.Ticket, bool) {
	if brokerClient != nil {
		ticket, _, ok, err := brokerClient.GetWork(workerPID, serviceType)
		if err != nil {
			h.logger.Error().Err(err).Msg("GET_WORK failed")
			time.Sleep(popTimeout)
			return 0, false
		}
		return ticket, ok
	}
	return shm.PopTicket(h.region.Queue(serviceType), popTimeout)
}

// serveTicket performs the FREE->BUSY->FREE transition and the simulated
// service sleep for one ticket (spec §4.7 steps 3c-3e).
func (h *Host) serveTicket(ctx context.Context, rec *shm.WorkerRecord, serviceType int, ticket types.Ticket, logger zerolog.Logger) {
	clk := &h.region.Hdr().Clock

	atomic.StoreUint32(&rec.State, uint32(types.WorkerBusy))
	atomic.StoreUint32(&rec.CurrentTicket, uint32(ticket))
	shm.NewCond(&h.region.Queue(serviceType).CondServed).Broadcast()
	logger.Info().Uint32("ticket", uint32(ticket)).Msg("now serving")

	start := time.Now()
	abandoned := false
	duration := h.randomServiceDuration()
	deadline := start.Add(duration)
	for time.Now().Before(deadline) {
		if h.shouldStop(ctx) {
			break
		}
		clock := shm.DecodeClock(atomic.LoadUint64(&clk.Packed))
		if !clock.Active {
			break
		}
		if int(clock.Hour) >= types.WorkingHourEnd {
			logger.Info().Uint32("ticket", uint32(ticket)).Msg("office closed, abandoning remaining service")
			abandoned = true
			break
		}
		time.Sleep(serviceChunk)
	}

	atomic.StoreUint32(&rec.CurrentTicket, uint32(types.CompletionSentinel))
	atomic.StoreUint32(&rec.State, uint32(types.WorkerFree))
	if abandoned {
		metrics.ServicesAbandonedTotal.Inc()
		logger.Info().Uint32("ticket", uint32(ticket)).Msg("service abandoned")
	} else {
		atomic.AddUint64(&h.region.Hdr().Stats.ServicesCompleted, 1)
		shm.MarkServed(h.region.Queue(serviceType), ticket)
		metrics.ServicesCompletedTotal.Inc()
		metrics.ServiceDuration.Observe(time.Since(start).Seconds())
		logger.Info().Uint32("ticket", uint32(ticket)).Msg("service complete")
	}

	atomic.StoreUint32(&rec.CurrentTicket, 0)
}

func (h *Host) randomServiceDuration() time.Duration {
	lo, hi := h.cfg.ServiceMinMs, h.cfg.ServiceMaxMs
	if hi <= lo {
		return time.Duration(lo) * time.Millisecond
	}
	return time.Duration(lo+rand.Intn(hi-lo)) * time.Millisecond
}
