package user

import (
	"context"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/postoffice/pkg/issuer"
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

func activateClock(r *shm.Region, hour uint8) {
	clk := &r.Hdr().Clock
	atomic.StoreUint64(&clk.Packed, shm.EncodeClock(types.ClockTime{Day: 1, Hour: hour, Minute: 0, Active: true}))
	atomic.StoreUint32(&clk.Active, 1)
}

func startTestIssuer(t *testing.T, region *shm.Region) string {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "issuer.sock")
	srv := issuer.NewServer(issuer.Config{SocketPath: socket, PoolSize: 2, NumServiceTypes: region.Params().NumServiceTypes}, region)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		c, err := net.DialTimeout("unix", socket, 100*time.Millisecond)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	return socket
}

// TestAgentRequestsTicketAndCompletesAfterWorkerServes drives a full
// request cycle against a real Ticket Issuer and a hand-simulated
// worker, verifying the agent's Run returns once the worker marks the
// ticket served.
func TestAgentRequestsTicketAndCompletesAfterWorkerServes(t *testing.T) {
	region := newTestRegion(t, 1, 2)
	activateClock(region, 9)
	socket := startTestIssuer(t, region)

	agent := New(Config{
		Region:           region,
		IssuerSocketPath: socket,
		UserID:           1,
		ServiceType:      0,
		NRequests:        1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		agent.Run(ctx)
		close(done)
	}()

	// Simulate a worker picking up the ticket once it's enqueued.
	var ticket types.Ticket
	require.Eventually(t, func() bool {
		var ok bool
		ticket, ok = shm.PopTicket(region.Queue(0), 50*time.Millisecond)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	rec := region.Worker(0)
	atomic.StoreInt32(&rec.ServiceType, 0)
	atomic.StoreUint32(&rec.State, uint32(types.WorkerBusy))
	atomic.StoreUint32(&rec.CurrentTicket, uint32(ticket))

	time.Sleep(50 * time.Millisecond)

	atomic.StoreUint32(&rec.State, uint32(types.WorkerFree))
	atomic.StoreUint32(&rec.CurrentTicket, uint32(types.CompletionSentinel))
	shm.MarkServed(region.Queue(0), ticket)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("agent did not complete after ticket was served")
	}

	assert.EqualValues(t, 0, atomic.LoadUint64(&region.Hdr().Stats.ConnectedUsers))
	assert.EqualValues(t, 1, atomic.LoadUint64(&region.Hdr().Stats.UsersSpawned))
}

func TestWaitForOpenReturnsImmediatelyWhenOpen(t *testing.T) {
	region := newTestRegion(t, 1, 2)
	activateClock(region, 9)

	a := New(Config{Region: region})
	done := make(chan struct{})
	go func() {
		a.waitForOpen(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("waitForOpen blocked despite office already open")
	}
}

func TestWaitForOpenUnblocksOnCancel(t *testing.T) {
	region := newTestRegion(t, 1, 2)
	activateClock(region, 20) // past close, before next open

	a := New(Config{Region: region})
	done := make(chan struct{})
	go func() {
		a.waitForOpen(context.Background())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	a.Cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("waitForOpen did not unblock after Cancel")
	}
}

func TestProbeIssuerFailsWithoutListener(t *testing.T) {
	region := newTestRegion(t, 1, 2)
	a := New(Config{
		Region:               region,
		IssuerSocketPath:     filepath.Join(t.TempDir(), "nobody-listening.sock"),
		ConnectRetries:       2,
		ConnectRetryInterval: time.Millisecond,
	})

	err := a.probeIssuer()
	assert.Error(t, err)
}

func TestBeingServedDetectsBusyWorker(t *testing.T) {
	region := newTestRegion(t, 2, 2)
	a := New(Config{Region: region})

	rec := region.Worker(1)
	atomic.StoreUint32(&rec.State, uint32(types.WorkerBusy))
	atomic.StoreInt32(&rec.ServiceType, 1)
	atomic.StoreUint32(&rec.CurrentTicket, 5)

	assert.True(t, a.beingServed(1, types.Ticket(5)))
	assert.False(t, a.beingServed(1, types.Ticket(6)))
	assert.False(t, a.beingServed(0, types.Ticket(5)))
}
