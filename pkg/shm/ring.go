package shm

import (
	"sync/atomic"
	"time"

	"github.com/cuemby/postoffice/pkg/types"
)

// PushTicket enqueues ticket onto q at the tail, blocking until a slot is
// free; the Ticket Issuer calls it once per issued ticket. Slot encoding is 0=empty, ticket+1=filled,
// so a full ring is detected by tail-head reaching the ring capacity.
func PushTicket(q *QueueBlock, ticket types.Ticket) {
	mu := NewMutex(&q.MutexWord)
	addedCond := NewCond(&q.CondAdded)
	mu.Lock()
	for int(atomic.LoadUint64(&q.Tail)-atomic.LoadUint64(&q.Head)) >= types.QueueRingCapacity {
		addedCond.Wait(mu, 50*time.Millisecond)
	}
	slot := atomic.AddUint64(&q.Tail, 1) - 1
	atomic.StoreUint32(&q.Ring[slot%types.QueueRingCapacity], uint32(ticket)+1)
	atomic.AddInt64(&q.WaitingCount, 1)
	mu.Unlock()
	addedCond.Signal()
}

// PopTicket dequeues the next ticket, blocking up to timeout for one to
// arrive (spec §4.7: workers pop at the head). Returns false on timeout.
func PopTicket(q *QueueBlock, timeout time.Duration) (types.Ticket, bool) {
	mu := NewMutex(&q.MutexWord)
	addedCond := NewCond(&q.CondAdded)
	mu.Lock()
	defer mu.Unlock()
	deadline := time.Now().Add(timeout)
	for atomic.LoadUint64(&q.Head) >= atomic.LoadUint64(&q.Tail) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, false
		}
		if remaining > 200*time.Millisecond {
			remaining = 200 * time.Millisecond
		}
		addedCond.Wait(mu, remaining)
		if time.Now().After(deadline) && atomic.LoadUint64(&q.Head) >= atomic.LoadUint64(&q.Tail) {
			return 0, false
		}
	}
	slot := atomic.AddUint64(&q.Head, 1) - 1
	raw := atomic.SwapUint32(&q.Ring[slot%types.QueueRingCapacity], 0)
	atomic.AddInt64(&q.WaitingCount, -1)
	return types.Ticket(raw - 1), true
}

// MarkServed records that ticket finished service on q, bumping the served
// counter and waking any user waiting on CondServed (spec §4.7, §4.6).
func MarkServed(q *QueueBlock, ticket types.Ticket) {
	atomic.AddUint64(&q.TotalServed, 1)
	atomic.StoreUint32(&q.LastFinishedTicket, uint32(ticket)+1)
	NewCond(&q.CondServed).Broadcast()
}

// WaitServed blocks until LastFinishedTicket reports ticket done, or
// timeout elapses. Used by a user goroutine waiting for its own ticket.
func WaitServed(q *QueueBlock, ticket types.Ticket, timeout time.Duration) bool {
	mu := NewMutex(&q.MutexWord)
	cond := NewCond(&q.CondServed)
	mu.Lock()
	defer mu.Unlock()
	deadline := time.Now().Add(timeout)
	for atomic.LoadUint32(&q.LastFinishedTicket) != uint32(ticket)+1 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		if remaining > 200*time.Millisecond {
			remaining = 200 * time.Millisecond
		}
		cond.Wait(mu, remaining)
		if time.Now().After(deadline) && atomic.LoadUint32(&q.LastFinishedTicket) != uint32(ticket)+1 {
			return false
		}
	}
	return true
}

// Depth returns the current number of tickets waiting in q.
func Depth(q *QueueBlock) int64 {
	return atomic.LoadInt64(&q.WaitingCount)
}
