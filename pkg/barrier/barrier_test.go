package barrier

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/postoffice/pkg/shm"
	"github.com/cuemby/postoffice/pkg/types"
	"github.com/stretchr/testify/assert"
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

// TestBarrierReleasesAfterAllParticipantsJoin drives the Director and
// three participants through one day rollover and verifies Run only
// returns once everyone has joined.
func TestBarrierReleasesAfterAllParticipantsJoin(t *testing.T) {
	region := newTestRegion(t)
	director := NewDirector(region, 3)

	var joined int32
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		p := NewParticipant(region, "participant")
		go func() {
			defer wg.Done()
			// MaybeJoin is a no-op until Director.Run publishes day 1, so
			// poll it the way the role processes do.
			for p.LastSyncedDay() < 1 {
				p.MaybeJoin(func() bool { return false })
				time.Sleep(time.Millisecond)
			}
			atomic.AddInt32(&joined, 1)
		}()
	}

	director.Run(1, func() bool { return false })

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("participants did not unblock after Director.Run returned")
	}
	assert.EqualValues(t, 3, atomic.LoadInt32(&joined))
	assert.EqualValues(t, 0, atomic.LoadUint32(&region.Hdr().Barrier.BarrierActive))
}

// TestParticipantSkipsUnchangedDay verifies MaybeJoin is a no-op when the
// barrier's day_seq has not advanced past the participant's last sync.
func TestParticipantSkipsUnchangedDay(t *testing.T) {
	region := newTestRegion(t)
	p := NewParticipant(region, "participant")

	start := time.Now()
	p.MaybeJoin(func() bool { return false })
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.EqualValues(t, 0, p.LastSyncedDay())
}

// TestDirectorRunStopsOnShouldStop ensures the Director does not block
// forever waiting for participants that will never join once termination
// is requested.
func TestDirectorRunStopsOnShouldStop(t *testing.T) {
	region := newTestRegion(t)
	director := NewDirector(region, 5)

	stop := make(chan struct{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(stop)
	}()

	done := make(chan struct{})
	go func() {
		director.Run(1, func() bool {
			select {
			case <-stop:
				return true
			default:
				return false
			}
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Director.Run did not return after shouldStop reported true")
	}
}

// TestReleaseUnblocksWaitingParticipant covers the Director-terminating
// failure path: Release must open the barrier even with no participants
// having joined.
func TestReleaseUnblocksWaitingParticipant(t *testing.T) {
	region := newTestRegion(t)
	b := &region.Hdr().Barrier
	atomic.StoreUint64(&b.DaySeq, 1)
	atomic.StoreUint32(&b.BarrierActive, 1)

	p := NewParticipant(region, "participant")
	done := make(chan struct{})
	go func() {
		p.MaybeJoin(func() bool { return false })
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	director := &Director{region: region, requiredCount: 1}
	director.Release()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("MaybeJoin did not return after Release")
	}
}
