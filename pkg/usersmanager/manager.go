package usersmanager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/postoffice/pkg/barrier"
	"github.com/cuemby/postoffice/pkg/log"
	"github.com/cuemby/postoffice/pkg/shm"
	"github.com/cuemby/postoffice/pkg/types"
	"github.com/cuemby/postoffice/pkg/user"
	"github.com/rs/zerolog"
)

// reconcileInterval is how often the main loop compares active against
// target population and spawns/stops users to close the gap, and how
// often it checks the day barrier (spec §4.8 "the main loop reconciles
// active vs target").
const reconcileInterval = time.Second

// batchQueueDepth bounds pending signal-driven population adjustments;
// a handler never blocks the signal-delivery goroutine waiting for the
// main loop to drain it.
const batchQueueDepth = 16

// slot is one entry in the fixed-size user-agent pool (spec §4.8: "a slot
// array of user threads (max capacity M")).
type slot struct {
	active   atomic.Bool
	stopping atomic.Bool
	agent    *user.Agent
}

// Manager owns the slot pool and reconciles it toward a target
// population driven by config and USR1/USR2 signals.
type Manager struct {
	cfg              types.UsersManagerConfig
	region           *shm.Region
	issuerSocketPath string
	numServiceTypes  int
	barrier          *barrier.Participant
	logger           zerolog.Logger

	slots     []*slot
	rrCounter int64
	target    int64
	active    int64

	submitCh chan *slot
	batchCh  chan int
	wg       sync.WaitGroup

	shuttingDown atomic.Bool
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New builds a Manager with types.MaxUserSlots capacity, ready to Run.
func New(cfg types.UsersManagerConfig, region *shm.Region, issuerSocketPath string) *Manager {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 32
	}
	if cfg.NNewUsers <= 0 {
		cfg.NNewUsers = 10
	}

	slots := make([]*slot, types.MaxUserSlots)
	for i := range slots {
		slots[i] = &slot{}
	}

	logger := log.WithRole("usersmanager")
	if cfg.RunID != "" {
		logger = logger.With().Str("run_id", cfg.RunID).Logger()
	}

	return &Manager{
		cfg:              cfg,
		region:           region,
		issuerSocketPath: issuerSocketPath,
		numServiceTypes:  region.Params().NumServiceTypes,
		barrier:          barrier.NewParticipant(region, "users-manager"),
		logger:           logger,
		slots:            slots,
		submitCh:         make(chan *slot, cfg.PoolSize),
		batchCh:          make(chan int, batchQueueDepth),
		shutdownCh:       make(chan struct{}),
	}
}

// RequestShutdown cooperatively stops every active user and the
// reconciliation loop. Safe to call more than once.
func (m *Manager) RequestShutdown() {
	m.shutdownOnce.Do(func() {
		m.shuttingDown.Store(true)
		close(m.shutdownCh)
	})
}

func (m *Manager) shouldStop(ctx context.Context) bool {
	if m.shuttingDown.Load() {
		return true
	}
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// RaiseBatch requests NNewUsers more users join the target population
// (spec §4.8 control surface, USR1).
func (m *Manager) RaiseBatch() { m.sendBatch(m.cfg.NNewUsers) }

// LowerBatch requests NNewUsers fewer users in the target population
// (spec §4.8 control surface, USR2).
func (m *Manager) LowerBatch() { m.sendBatch(-m.cfg.NNewUsers) }

func (m *Manager) sendBatch(delta int) {
	select {
	case m.batchCh <- delta:
	default:
		m.logger.Warn().Int("delta", delta).Msg("batch channel saturated, dropping population adjustment")
	}
}

func (m *Manager) adjustTarget(delta int) {
	next := atomic.AddInt64(&m.target, int64(delta))
	switch {
	case next < 0:
		atomic.StoreInt64(&m.target, 0)
	case next > int64(len(m.slots)):
		atomic.StoreInt64(&m.target, int64(len(m.slots)))
	}
}

// Run starts the pool workers and the reconciliation loop, blocking until
// ctx is cancelled or RequestShutdown is called.
func (m *Manager) Run(ctx context.Context) error {
	for i := 0; i < m.cfg.PoolSize; i++ {
		go m.poolWorker(ctx)
	}
	atomic.StoreInt64(&m.target, int64(m.cfg.InitialUsers))

	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.shutdownAll()
			close(m.submitCh)
			return nil
		case <-m.shutdownCh:
			m.shutdownAll()
			close(m.submitCh)
			return nil
		case delta := <-m.batchCh:
			m.adjustTarget(delta)
		case <-ticker.C:
			m.barrier.MaybeJoin(func() bool { return m.shouldStop(ctx) })
			m.reconcile(ctx)
		}
	}
}

// reconcile spawns or stops users until active matches target, or until
// the pool is exhausted in either direction (spec §4.8 main loop).
func (m *Manager) reconcile(ctx context.Context) {
	target := atomic.LoadInt64(&m.target)
	for atomic.LoadInt64(&m.active) < target {
		if !m.spawn(ctx) {
			break
		}
	}
	for atomic.LoadInt64(&m.active) > target {
		if !m.stopRandom() {
			break
		}
	}
}

// spawn claims the first free slot via compare-and-set, builds a user
// agent with a round-robin service type, and submits it to the pool
// (spec §4.8 spawn()).
func (m *Manager) spawn(ctx context.Context) bool {
	for i, s := range m.slots {
		if !s.active.CompareAndSwap(false, true) {
			continue
		}
		serviceType := int(atomic.AddInt64(&m.rrCounter, 1)-1) % m.numServiceTypes
		s.agent = user.New(user.Config{
			Region:           m.region,
			IssuerSocketPath: m.issuerSocketPath,
			UserID:           i,
			ServiceType:      serviceType,
			NRequests:        m.cfg.NRequests,
		})
		s.stopping.Store(false)

		atomic.AddInt64(&m.active, 1)
		atomic.AddUint64(&m.region.Hdr().Stats.ConnectedThreads, 1)
		m.wg.Add(1)

		select {
		case m.submitCh <- s:
		case <-ctx.Done():
		}
		return true
	}
	return false
}

// stopRandom scans slots in reverse and cancels the first active one not
// already stopping (spec §4.8 stop_random()).
func (m *Manager) stopRandom() bool {
	for i := len(m.slots) - 1; i >= 0; i-- {
		s := m.slots[i]
		if s.active.Load() && s.stopping.CompareAndSwap(false, true) {
			s.agent.Cancel()
			return true
		}
	}
	return false
}

// shutdownAll clears every should_run flag and joins the wait-group
// (spec §4.8 shutdown_all()).
func (m *Manager) shutdownAll() {
	m.shuttingDown.Store(true)
	for _, s := range m.slots {
		if s.active.Load() && s.stopping.CompareAndSwap(false, true) {
			s.agent.Cancel()
		}
	}
	m.wg.Wait()
}

// poolWorker drains submitCh and runs each assigned agent to completion,
// then releases its slot (spec §4.8: "submit to a thread pool ... on
// completion the wrapper decrements the wait-group and releases the
// slot").
func (m *Manager) poolWorker(ctx context.Context) {
	for s := range m.submitCh {
		s.agent.Run(ctx)
		atomic.AddInt64(&m.active, -1)
		atomic.AddUint64(&m.region.Hdr().Stats.ConnectedThreads, ^uint64(0))
		s.agent = nil
		s.stopping.Store(false)
		s.active.Store(false)
		m.wg.Done()
	}
}

// Active reports the current number of claimed slots.
func (m *Manager) Active() int64 { return atomic.LoadInt64(&m.active) }

// Target reports the current target population.
func (m *Manager) Target() int64 { return atomic.LoadInt64(&m.target) }
