package health

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/postoffice/pkg/log"
	"github.com/cuemby/postoffice/pkg/shm"
	"github.com/cuemby/postoffice/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

func newTestRegion(t *testing.T, nWorkers, numServiceTypes int) *shm.Region {
	t.Helper()
	path := filepath.Join(t.TempDir(), "region.shm")
	r, err := shm.Create(path, types.Params{
		NWorkers:        nWorkers,
		NumServiceTypes: numServiceTypes,
		SimDurationDays: 1,
		TickNanos:       1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Destroy() })
	return r
}

func TestBarrierCheckerHealthyWhenIdle(t *testing.T) {
	region := newTestRegion(t, 1, 2)
	c := NewBarrierChecker(region, 100*time.Millisecond)
	res := c.Check(context.Background())
	assert.True(t, res.Healthy)
}

func TestBarrierCheckerFlagsStuckBarrier(t *testing.T) {
	region := newTestRegion(t, 1, 2)
	b := &region.Hdr().Barrier
	atomic.StoreInt32(&b.RequiredCount, 2)
	atomic.StoreUint32(&b.BarrierActive, 1)

	c := NewBarrierChecker(region, 20*time.Millisecond)

	res := c.Check(context.Background())
	assert.True(t, res.Healthy, "not yet stale on first check")

	time.Sleep(30 * time.Millisecond)
	res = c.Check(context.Background())
	assert.False(t, res.Healthy)
}

func TestWorkerCheckerDetectsUnreachablePID(t *testing.T) {
	region := newTestRegion(t, 2, 2)
	atomic.StoreInt32(&region.Worker(0).PID, int32(os.Getpid()))
	atomic.StoreInt32(&region.Worker(1).PID, 999999) // almost certainly not a live PID

	c := NewWorkerChecker(region)
	res := c.Check(context.Background())
	assert.False(t, res.Healthy)
}

func TestWorkerCheckerHealthyWithNoRegisteredPIDs(t *testing.T) {
	region := newTestRegion(t, 2, 2)
	c := NewWorkerChecker(region)
	res := c.Check(context.Background())
	assert.True(t, res.Healthy)
}

func TestQueueCheckerFlagsPinnedQueue(t *testing.T) {
	region := newTestRegion(t, 1, 2)
	q := region.Queue(0)
	atomic.StoreUint64(&q.Tail, types.QueueRingCapacity)

	c := NewQueueChecker(region, 0, 20*time.Millisecond)
	res := c.Check(context.Background())
	assert.True(t, res.Healthy, "not yet stale on first check")

	time.Sleep(30 * time.Millisecond)
	res = c.Check(context.Background())
	assert.False(t, res.Healthy)
}

func TestStatusHysteresisRequiresConsecutiveFailures(t *testing.T) {
	s := NewStatus()
	cfg := Config{Retries: 3}

	for i := 0; i < 2; i++ {
		s.Update(Result{Healthy: false, CheckedAt: time.Now()}, cfg)
		assert.True(t, s.Healthy, "should tolerate fewer than Retries failures")
	}
	s.Update(Result{Healthy: false, CheckedAt: time.Now()}, cfg)
	assert.False(t, s.Healthy)

	s.Update(Result{Healthy: true, CheckedAt: time.Now()}, cfg)
	assert.True(t, s.Healthy, "single success clears the failure streak")
}

func TestMonitorInvokesOnUnhealthyOnce(t *testing.T) {
	region := newTestRegion(t, 1, 2)
	b := &region.Hdr().Barrier
	atomic.StoreInt32(&b.RequiredCount, 2)
	atomic.StoreUint32(&b.BarrierActive, 1)

	checker := NewBarrierChecker(region, time.Millisecond)
	time.Sleep(5 * time.Millisecond) // the first poll only starts the staleness timer; the second reports unhealthy

	m := NewMonitor(Config{Interval: 5 * time.Millisecond, Retries: 1}, checker)

	var calls int32
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	m.Run(ctx, func(c Checker, s *Status) {
		atomic.AddInt32(&calls, 1)
	})

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.False(t, m.Statuses()[0].Healthy)
}
