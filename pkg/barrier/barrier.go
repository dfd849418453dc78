// Package barrier implements the day-start synchronization protocol: every
// registered participant (Ticket Issuer, Users Manager, Worker-host) must
// observe a day rollover before any new service work begins for that day.
package barrier

import (
	"sync/atomic"
	"time"

	"github.com/cuemby/postoffice/pkg/log"
	"github.com/cuemby/postoffice/pkg/shm"
)

// warnAfter is how long a participant waits for barrier_active to flip
// before logging a diagnostic, per the spec's "warn after 5s" clause.
const warnAfter = 5 * time.Second

// Director drives the barrier from the Director side: resetting
// ready_count, waiting for every participant to join, then releasing them.
type Director struct {
	region        *shm.Region
	requiredCount int32
}

// NewDirector builds a barrier driver configured for requiredCount
// participants (one Ticket Issuer, one Users Manager, one Worker-host,
// regardless of per-host thread count).
func NewDirector(region *shm.Region, requiredCount int) *Director {
	b := &region.Hdr().Barrier
	atomic.StoreInt32(&b.RequiredCount, int32(requiredCount))
	return &Director{region: region, requiredCount: int32(requiredCount)}
}

// Run executes one day-start barrier for newDay: resets ready_count,
// marks the barrier active, wakes any worker waiting on a queue so it can
// observe the rollover, then blocks until every participant has joined or
// shouldStop reports true.
func (d *Director) Run(newDay uint64, shouldStop func() bool) {
	b := &d.region.Hdr().Barrier
	mu := shm.NewMutex(&b.MutexWord)
	workersReady := shm.NewCond(&b.CondWorkersReady)
	dayStart := shm.NewCond(&b.CondDayStart)

	mu.Lock()
	atomic.StoreInt32(&b.ReadyCount, 0)
	atomic.StoreUint64(&b.DaySeq, newDay)
	atomic.StoreUint32(&b.BarrierActive, 1)

	for i := range d.region.Hdr().Queues {
		shm.NewCond(&d.region.Hdr().Queues[i].CondAdded).Broadcast()
	}

	for atomic.LoadInt32(&b.ReadyCount) < d.requiredCount {
		if shouldStop != nil && shouldStop() {
			break
		}
		workersReady.Wait(mu, 200*time.Millisecond)
	}

	atomic.StoreUint32(&b.BarrierActive, 0)
	dayStart.Broadcast()
	mu.Unlock()
}

// Release forces the barrier open without waiting for stragglers, used
// when the Director is terminating and must not block on a participant
// that will never join (spec §4.3 failure model).
func (d *Director) Release() {
	b := &d.region.Hdr().Barrier
	mu := shm.NewMutex(&b.MutexWord)
	mu.Lock()
	atomic.StoreUint32(&b.BarrierActive, 0)
	shm.NewCond(&b.CondDayStart).Broadcast()
	shm.NewCond(&b.CondWorkersReady).Broadcast()
	mu.Unlock()
}

// Participant tracks one participant's barrier-side state: the day it
// last synchronized with, so it only joins once per rollover.
type Participant struct {
	region        *shm.Region
	name          string
	lastSyncedDay uint64
}

// NewParticipant builds a barrier participant identified by name (used in
// diagnostic log lines only).
func NewParticipant(region *shm.Region, name string) *Participant {
	return &Participant{region: region, name: name}
}

// MaybeJoin checks whether a new day has rolled over and, if so, joins the
// barrier: waits for barrier_active, increments ready_count, signals the
// Director, then waits for the Director to release the barrier. Returns
// immediately (doing nothing) if the barrier's day_seq has not advanced
// past the last one this participant observed.
func (p *Participant) MaybeJoin(shouldStop func() bool) {
	b := &p.region.Hdr().Barrier
	daySeq := atomic.LoadUint64(&b.DaySeq)
	if daySeq <= p.lastSyncedDay {
		return
	}

	mu := shm.NewMutex(&b.MutexWord)
	workersReady := shm.NewCond(&b.CondWorkersReady)
	dayStart := shm.NewCond(&b.CondDayStart)

	start := time.Now()
	for atomic.LoadUint32(&b.BarrierActive) == 0 {
		if shouldStop != nil && shouldStop() {
			return
		}
		if time.Since(start) > warnAfter {
			log.Logger.Warn().Str("participant", p.name).Msg("still waiting for barrier_active after 5s")
			start = time.Now()
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	atomic.AddInt32(&b.ReadyCount, 1)
	workersReady.Signal()
	p.lastSyncedDay = daySeq

	for atomic.LoadUint32(&b.BarrierActive) == 1 {
		if shouldStop != nil && shouldStop() {
			mu.Unlock()
			return
		}
		dayStart.Wait(mu, 200*time.Millisecond)
	}
	mu.Unlock()
}

// LastSyncedDay reports the most recent day this participant acknowledged.
func (p *Participant) LastSyncedDay() uint64 { return p.lastSyncedDay }
