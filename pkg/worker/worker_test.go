package worker

import (
	"context"
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
		TickNanos:       1_000_000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Destroy() })
	return r
}

func activateClock(r *shm.Region, hour uint8) {
	clk := &r.Hdr().Clock
	atomic.StoreUint64(&clk.Packed, shm.EncodeClock(types.ClockTime{Day: 1, Hour: hour, Minute: 0, Active: true}))
	atomic.StoreUint32(&clk.Active, 1)
}

// TestWorkerRegistersAndCompletesService verifies a single worker
// registers FREE, picks up a queued ticket, serves it, and reports
// completion through both the stats counter and the queue's
// last-finished-ticket word.
func TestWorkerRegistersAndCompletesService(t *testing.T) {
	region := newTestRegion(t, 1, 2)
	activateClock(region, 9)
	shm.PushTicket(region.Queue(0), types.Ticket(42))

	h := New(Config{
		Region:             region,
		StartIndex:         0,
		Count:              1,
		InitialServiceType: func(int) int { return 0 },
		ServiceMinMs:       5,
		ServiceMaxMs:       15,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return atomic.LoadUint64(&region.Hdr().Stats.ServicesCompleted) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, shm.WaitServed(region.Queue(0), types.Ticket(42), time.Second))

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("host did not shut down")
	}
	assert.EqualValues(t, uint32(types.WorkerOffline), region.Worker(0).State)
}

// TestWorkerRegistersFreeBeforeServing verifies registration sets state
// FREE and service_type to the configured initial value even before any
// ticket arrives.
func TestWorkerRegistersFreeBeforeServing(t *testing.T) {
	region := newTestRegion(t, 2, 2)
	activateClock(region, 9)

	h := New(Config{
		Region:             region,
		StartIndex:         0,
		Count:              2,
		InitialServiceType: func(i int) int { return i % 2 },
		ServiceMinMs:       5,
		ServiceMaxMs:       10,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return types.WorkerState(atomic.LoadUint32(&region.Worker(0).State)) == types.WorkerFree &&
			types.WorkerState(atomic.LoadUint32(&region.Worker(1).State)) == types.WorkerFree
	}, time.Second, 5*time.Millisecond)

	assert.EqualValues(t, 0, region.Worker(0).ServiceType)
	assert.EqualValues(t, 1, region.Worker(1).ServiceType)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("host did not shut down")
	}
}

// TestServicePhaseAppliesReassignment verifies a worker picks up a
// pending reassignment's new service_type before popping its next ticket.
func TestServicePhaseAppliesReassignment(t *testing.T) {
	region := newTestRegion(t, 1, 2)
	activateClock(region, 9)
	shm.PushTicket(region.Queue(1), types.Ticket(7))

	h := New(Config{Region: region, ServiceMinMs: 5, ServiceMaxMs: 10})
	rec := region.Worker(0)
	atomic.StoreInt32(&rec.ServiceType, 1)
	atomic.StoreUint32(&rec.ReassignmentPending, 1)

	serviceType := 0
	logger := log.WithRole("test")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		h.servicePhase(ctx, rec, &serviceType, logger, nil)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return atomic.LoadUint64(&region.Queue(1).TotalServed) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, serviceType)
	assert.EqualValues(t, 0, atomic.LoadUint32(&rec.ReassignmentPending))

	cancel()
	<-done
}

// TestServicePhaseStopsOnBarrierActive verifies the service loop exits as
// soon as barrier_active flips, without waiting for a ticket timeout.
func TestServicePhaseStopsOnBarrierActive(t *testing.T) {
	region := newTestRegion(t, 1, 2)
	activateClock(region, 9)
	atomic.StoreUint32(&region.Hdr().Barrier.BarrierActive, 1)

	h := New(Config{Region: region, ServiceMinMs: 5, ServiceMaxMs: 10})
	rec := region.Worker(0)
	serviceType := 0

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		h.servicePhase(ctx, rec, &serviceType, log.WithRole("test"), nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("servicePhase did not return promptly when barrier_active=1")
	}
}

// TestServeTicketAbandonedDoesNotCountAsCompleted verifies a service cut
// short by the 17:00 cutoff does not inflate services_completed or the
// queue's total_served counter, since the ticket was never finished.
func TestServeTicketAbandonedDoesNotCountAsCompleted(t *testing.T) {
	region := newTestRegion(t, 1, 2)
	activateClock(region, types.WorkingHourEnd)

	h := New(Config{Region: region, ServiceMinMs: 500, ServiceMaxMs: 500})
	rec := region.Worker(0)

	h.serveTicket(context.Background(), rec, 0, types.Ticket(9), log.WithRole("test"))

	assert.EqualValues(t, 0, atomic.LoadUint64(&region.Hdr().Stats.ServicesCompleted))
	assert.EqualValues(t, 0, atomic.LoadUint64(&region.Queue(0).TotalServed))
	assert.EqualValues(t, types.WorkerFree, atomic.LoadUint32(&rec.State))
}

// TestServeTicketBroadcastsCondServedOnPickup verifies a waiter blocked on
// CondServed wakes as soon as the worker publishes current_ticket, not
// only at completion — otherwise a service shorter than a user's poll
// interval would never be observed.
func TestServeTicketBroadcastsCondServedOnPickup(t *testing.T) {
	region := newTestRegion(t, 1, 2)
	activateClock(region, 9)

	h := New(Config{Region: region, ServiceMinMs: 200, ServiceMaxMs: 200})
	rec := region.Worker(0)

	q := region.Queue(0)
	mu := shm.NewMutex(&q.MutexWord)
	cond := shm.NewCond(&q.CondServed)

	woke := make(chan struct{})
	go func() {
		mu.Lock()
		cond.Wait(mu, 5*time.Second)
		mu.Unlock()
		close(woke)
	}()

	time.Sleep(20 * time.Millisecond) // let the waiter block before pickup
	go h.serveTicket(context.Background(), rec, 0, types.Ticket(5), log.WithRole("test"))

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("CondServed waiter did not wake on pickup")
	}
}

func TestHostBarrierReleasesWaiters(t *testing.T) {
	hb := newHostBarrier()
	waited := make(chan uint64, 1)
	go func() {
		waited <- hb.waitNext(0)
	}()

	time.Sleep(20 * time.Millisecond)
	hb.release()

	select {
	case gen := <-waited:
		assert.EqualValues(t, 1, gen)
	case <-time.After(time.Second):
		t.Fatal("waitNext did not unblock after release")
	}
}
