package metrics

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cuemby/postoffice/pkg/shm"
	"github.com/cuemby/postoffice/pkg/types"
)

// collectInterval matches the teacher's MetricsCollector cadence class
// (a steady background poll, not tied to the simulation's own clock).
const collectInterval = 2 * time.Second

// Collector polls a shared region on an interval and republishes its
// current state into the package's Prometheus gauges, the same role
// cuemby-warren's manager.MetricsCollector plays for cluster state: an
// external scraper never needs to know the region layout.
type Collector struct {
	region     *shm.Region
	target     func() int64 // optional: Users Manager's current target population
	lastServed []uint64
}

// NewCollector builds a Collector over region. target, if non-nil, is
// polled for the Users Manager's current target population; pass nil
// from a process that has no Users Manager in it.
func NewCollector(region *shm.Region, target func() int64) *Collector {
	return &Collector{
		region:     region,
		target:     target,
		lastServed: make([]uint64, region.Params().NumServiceTypes),
	}
}

// Run polls on collectInterval until ctx is cancelled, collecting once
// immediately on entry.
func (c *Collector) Run(ctx context.Context) {
	c.collect()

	ticker := time.NewTicker(collectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *Collector) collect() {
	c.collectWorkers()
	c.collectQueues()
	c.collectBarrier()
	c.collectUsers()
	c.collectClock()
}

func (c *Collector) collectWorkers() {
	var free, busy, reassigning int
	for i := 0; i < c.region.NWorkers(); i++ {
		w := c.region.Worker(i)
		switch types.WorkerState(atomic.LoadUint32(&w.State)) {
		case types.WorkerBusy:
			busy++
		default:
			free++
		}
		if atomic.LoadUint32(&w.ReassignmentPending) != 0 {
			reassigning++
		}
	}
	WorkersTotal.WithLabelValues("free").Set(float64(free))
	WorkersTotal.WithLabelValues("busy").Set(float64(busy))
	WorkerReassignmentsPending.Set(float64(reassigning))
}

func (c *Collector) collectQueues() {
	for s := 0; s < c.region.Params().NumServiceTypes; s++ {
		label := strconv.Itoa(s)
		q := c.region.Queue(s)
		QueueDepth.WithLabelValues(label).Set(float64(shm.Depth(q)))

		served := atomic.LoadUint64(&q.TotalServed)
		if delta := served - c.lastServed[s]; delta > 0 {
			QueueServedTotal.WithLabelValues(label).Add(float64(delta))
		}
		c.lastServed[s] = served
	}
}

func (c *Collector) collectBarrier() {
	b := &c.region.Hdr().Barrier
	if atomic.LoadUint32(&b.BarrierActive) != 0 {
		BarrierActive.Set(1)
	} else {
		BarrierActive.Set(0)
	}
	BarrierReadyCount.Set(float64(atomic.LoadInt32(&b.ReadyCount)))
}

func (c *Collector) collectUsers() {
	UsersConnected.Set(float64(atomic.LoadUint64(&c.region.Hdr().Stats.ConnectedUsers)))
	if c.target != nil {
		UsersTarget.Set(float64(c.target()))
	}
}

func (c *Collector) collectClock() {
	clk := shm.DecodeClock(atomic.LoadUint64(&c.region.Hdr().Clock.Packed))
	SimulatedDay.Set(float64(clk.Day))
	if atomic.LoadUint32(&c.region.Hdr().Clock.Active) != 0 {
		SimulationActive.Set(1)
	} else {
		SimulationActive.Set(0)
	}
}
