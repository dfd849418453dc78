// Package director implements the Director: the single authoritative
// writer of simulated time, the day-start barrier driver, the optional
// load balancer invoker, and the process supervisor that spawns, reaps,
// and terminates every other participant.
package director

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/postoffice/pkg/barrier"
	"github.com/cuemby/postoffice/pkg/health"
	"github.com/cuemby/postoffice/pkg/loadbalancer"
	"github.com/cuemby/postoffice/pkg/log"
	"github.com/cuemby/postoffice/pkg/shm"
	"github.com/cuemby/postoffice/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ChildSpec describes one participant process the Director supervises.
type ChildSpec struct {
	Name string
	Path string
	Args []string
}

// Config configures one Director run.
type Config struct {
	RegionPath          string
	Params              types.Params
	BarrierParticipants int // normally 3 (one Ticket Issuer + one Users Manager + one Worker-host); used as given, no default is applied
	Children            []ChildSpec
	LoadBalance         types.LoadBalanceConfig
	Headless            bool

	// RunID tags every log line this Director (and, once propagated to
	// each ChildSpec's own flags, every other role process) emits with a
	// per-run correlation id. Empty means New generates one.
	RunID string
}

// Director owns the shared region for its entire lifetime: it creates it
// at startup and destroys it after every child has exited.
type Director struct {
	cfg     Config
	region  *shm.Region
	barrier *barrier.Director
	lb      *loadbalancer.LoadBalancer
	logger  zerolog.Logger

	shuttingDown atomic.Bool
	reason       atomic.Value // types.TerminationReason

	childrenMu sync.Mutex
	children   []*supervisedChild

	day, hour, minute int

	report RunReport
}

type supervisedChild struct {
	spec    ChildSpec
	cmd     *exec.Cmd
	exited  chan struct{}
	exitErr error
}

// New creates the shared region and a Director ready to Run.
// cfg.BarrierParticipants must be set by the caller to the number of
// participants that will actually join the day-start barrier — normally
// 3 (one Ticket Issuer, one Users Manager, one Worker-host), but 0 is
// valid for a Director running with no external participants (e.g.
// tests exercising the clock loop in isolation).
func New(cfg Config) (*Director, error) {
	region, err := shm.Create(cfg.RegionPath, cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("director: create region: %w", err)
	}

	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	d := &Director{
		cfg:     cfg,
		region:  region,
		barrier: barrier.NewDirector(region, cfg.BarrierParticipants),
		lb:      loadbalancer.New(region, cfg.LoadBalance),
		logger:  log.WithRole("director").With().Str("run_id", cfg.RunID).Logger(),
	}
	d.reason.Store(types.TerminationNone)
	return d, nil
}

// Region exposes the shared region, for tests and for cmd/director's
// metrics Collector.
func (d *Director) Region() *shm.Region { return d.region }

// RunID reports the correlation id tagging this run's log lines, so the
// caller can propagate the same value to every child process's flags.
func (d *Director) RunID() string { return d.cfg.RunID }

// RequestShutdown cooperatively asks the Director to terminate at the
// next opportunity (clock tick boundary or barrier wait), matching the
// "operator signal" termination predicate in spec §4.2.
func (d *Director) RequestShutdown() {
	if d.shuttingDown.CompareAndSwap(false, true) {
		d.reason.Store(types.TerminationSignal)
	}
}

// IsShuttingDown reports whether termination has been requested, by
// signal or by a clock-loop predicate.
func (d *Director) IsShuttingDown() bool { return d.shuttingDown.Load() }

func (d *Director) terminate(reason types.TerminationReason) {
	if d.shuttingDown.CompareAndSwap(false, true) {
		d.reason.Store(reason)
	}
}

// Run spawns every configured child, drives the clock loop to
// termination, then stops children and releases the shared region. It
// blocks until shutdown is complete or ctx is cancelled.
func (d *Director) Run(ctx context.Context) error {
	d.logger.Info().Str("region", d.cfg.RegionPath).Int("workers", d.cfg.Params.NWorkers).Msg("director starting")

	if err := d.spawnChildren(); err != nil {
		d.terminate(types.TerminationCrash)
		_ = d.region.Destroy()
		return fmt.Errorf("director: spawn children: %w", err)
	}

	monitorStop := make(chan struct{})
	go d.monitorChildren(monitorStop)

	healthCtx, healthCancel := context.WithCancel(ctx)
	go d.healthMonitor().Run(healthCtx, d.onUnhealthy)

	d.runClockLoop(ctx)

	healthCancel()
	close(monitorStop)
	d.stopChildren()
	d.waitChildren()

	d.emitRunReport()

	if err := d.region.Destroy(); err != nil {
		return fmt.Errorf("director: destroy region: %w", err)
	}
	return nil
}

// Reason reports why the Director terminated, or TerminationNone while
// still running.
func (d *Director) Reason() types.TerminationReason {
	r, _ := d.reason.Load().(types.TerminationReason)
	return r
}
