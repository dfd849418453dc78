package metrics

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/postoffice/pkg/shm"
	"github.com/cuemby/postoffice/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestRegion(t *testing.T) *shm.Region {
	t.Helper()
	path := filepath.Join(t.TempDir(), "region.shm")
	r, err := shm.Create(path, types.Params{
		NWorkers:        2,
		NumServiceTypes: 2,
		SimDurationDays: 1,
		TickNanos:       1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Destroy() })
	return r
}

func TestCollectorReportsWorkerStateCounts(t *testing.T) {
	region := newTestRegion(t)
	atomic.StoreUint32(&region.Worker(0).State, uint32(types.WorkerBusy))
	atomic.StoreUint32(&region.Worker(1).State, uint32(types.WorkerFree))

	c := NewCollector(region, nil)
	c.collect()

	require.InDelta(t, 1, testutil.ToFloat64(WorkersTotal.WithLabelValues("busy")), 0.001)
	require.InDelta(t, 1, testutil.ToFloat64(WorkersTotal.WithLabelValues("free")), 0.001)
}

func TestCollectorTracksQueueServedDelta(t *testing.T) {
	region := newTestRegion(t)
	q := region.Queue(0)

	c := NewCollector(region, nil)
	c.collect()
	before := testutil.ToFloat64(QueueServedTotal.WithLabelValues("0"))

	atomic.AddUint64(&q.TotalServed, 3)
	c.collect()
	after := testutil.ToFloat64(QueueServedTotal.WithLabelValues("0"))

	require.InDelta(t, 3, after-before, 0.001)
}

func TestCollectorReportsTargetFromCallback(t *testing.T) {
	region := newTestRegion(t)
	c := NewCollector(region, func() int64 { return 42 })
	c.collect()
	require.InDelta(t, 42, testutil.ToFloat64(UsersTarget), 0.001)
}

func TestCollectorRunStopsOnContextCancel(t *testing.T) {
	region := newTestRegion(t)
	c := NewCollector(region, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
