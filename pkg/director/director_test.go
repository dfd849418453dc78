package director

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/postoffice/pkg/shm"
	"github.com/cuemby/postoffice/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDirector(t *testing.T, params types.Params) *Director {
	t.Helper()
	path := filepath.Join(t.TempDir(), "region.shm")
	d, err := New(Config{
		RegionPath:          path,
		Params:              params,
		BarrierParticipants: 0,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.region.Destroy() })
	return d
}

// TestClockLoopTerminatesOnDuration verifies the clock loop stops once
// day exceeds sim_duration_days and records the duration reason.
func TestClockLoopTerminatesOnDuration(t *testing.T) {
	d := newTestDirector(t, types.Params{
		NWorkers:        1,
		NumServiceTypes: 2,
		SimDurationDays: 1,
		TickNanos:       1_000_000,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		d.runClockLoop(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(8 * time.Second):
		t.Fatal("clock loop did not terminate on duration predicate")
	}
	assert.Equal(t, types.TerminationDuration, d.Reason())
	assert.EqualValues(t, 0, d.region.Hdr().Clock.Active)
}

// TestClockLoopInvokesLoadBalanceCheckOnInterval verifies the clock loop
// drives the load balancer's Check on its own simulated-minute schedule
// rather than leaving it dead code that only a direct unit test reaches.
func TestClockLoopInvokesLoadBalanceCheckOnInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.shm")
	d, err := New(Config{
		RegionPath:          path,
		Params:              types.Params{NWorkers: 1, NumServiceTypes: 2, SimDurationDays: 1000, TickNanos: 1_000_000},
		BarrierParticipants: 0,
		LoadBalance: types.LoadBalanceConfig{
			Enabled:              true,
			CheckIntervalMinutes: 2,
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.region.Destroy() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.runClockLoop(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return d.region.Hdr().LoadBalance.ChecksPerformed >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

// TestClockLoopStartsAtConfiguredTime verifies StartHour/StartMinute seed
// the clock's initial time of day instead of always starting at 00:00.
func TestClockLoopStartsAtConfiguredTime(t *testing.T) {
	d := newTestDirector(t, types.Params{
		NWorkers:        1,
		NumServiceTypes: 2,
		SimDurationDays: 1000,
		TickNanos:       1_000_000,
		StartHour:       7,
		StartMinute:     58,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.runClockLoop(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		clock := shm.DecodeClock(d.region.Hdr().Clock.Packed)
		return clock.Hour == 7 && clock.Minute == 58
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

// TestClockLoopTerminatesOnOverflow verifies the overflow predicate fires
// once total waiting count exceeds explode_threshold.
func TestClockLoopTerminatesOnOverflow(t *testing.T) {
	d := newTestDirector(t, types.Params{
		NWorkers:         1,
		NumServiceTypes:  2,
		SimDurationDays:  1000,
		TickNanos:        1_000_000,
		ExplodeThreshold: 2,
	})

	for i := 0; i < 5; i++ {
		shm.PushTicket(d.region.Queue(0), types.Ticket(i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		d.runClockLoop(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(8 * time.Second):
		t.Fatal("clock loop did not terminate on overflow predicate")
	}
	assert.Equal(t, types.TerminationOverflow, d.Reason())
}

// TestRequestShutdownStopsClockLoop verifies a cooperative shutdown
// request halts the clock loop even with no duration/overflow predicate
// close to firing.
func TestRequestShutdownStopsClockLoop(t *testing.T) {
	d := newTestDirector(t, types.Params{
		NWorkers:        1,
		NumServiceTypes: 2,
		SimDurationDays: 1000,
		TickNanos:       1_000_000,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		d.runClockLoop(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	d.RequestShutdown()

	select {
	case <-done:
	case <-time.After(8 * time.Second):
		t.Fatal("clock loop did not stop after RequestShutdown")
	}
	assert.Equal(t, types.TerminationSignal, d.Reason())
}
