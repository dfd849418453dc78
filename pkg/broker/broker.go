// Package broker implements the Work Broker, the priority-queued
// alternative front end to the Ticket Issuer's plain FIFO rings: each
// service type gets a min-heap ordered by (is_vip desc, arrival_time asc)
// instead of a fixed-capacity ring buffer.
package broker

import (
	"container/heap"
	"sync"
	"sync/atomic"

	"github.com/cuemby/postoffice/pkg/types"
)

// item is one queued ticket. VIP tickets sort ahead of non-VIP ones;
// within the same VIP tier, earlier arrivals sort first.
type item struct {
	ticket  types.Ticket
	isVIP   bool
	arrival int64 // monotonic sequence, not wall time (spec: "arrival_time" is order, not a deadline)
	index   int
}

// priorityHeap implements container/heap.Interface, grounded on the
// min-heap shape used for timer scheduling elsewhere in the corpus.
type priorityHeap []*item

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	if h[i].isVIP != h[j].isVIP {
		return h[i].isVIP // VIP sorts first
	}
	return h[i].arrival < h[j].arrival
}

func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *priorityHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// serviceQueue is one service type's broker-side queue: a mutex-guarded
// priority heap plus the assignment table ensuring at most one worker
// ever holds a given ticket number (spec §4.5 invariant).
type serviceQueue struct {
	mu       sync.Mutex
	heap     priorityHeap
	assigned map[types.Ticket]int32 // ticket -> worker_pid currently holding it
	nextSeq  int64
}

// Broker holds one priority queue per configured service type and the
// ticket sequence. It keeps no load-balance statistics: checks,
// rebalances, and worker reassignments are tracked by pkg/loadbalancer,
// not here; the broker only tracks queue contents and assignment.
type Broker struct {
	queues []*serviceQueue
	seq    uint64
}

// New builds a Broker with numServiceTypes independent priority queues.
func New(numServiceTypes int) *Broker {
	b := &Broker{queues: make([]*serviceQueue, numServiceTypes)}
	for i := range b.queues {
		b.queues[i] = &serviceQueue{assigned: make(map[types.Ticket]int32)}
	}
	return b
}

// JoinQueue enqueues a new ticket for serviceType, returning the assigned
// ticket number. estimatedWaitMs is a coarse linear estimate from queue
// depth, good enough for JOIN_ACK's advisory field.
func (b *Broker) JoinQueue(serviceType int, isVIP bool) (ticket types.Ticket, estimatedWaitMs uint32) {
	q := b.queueFor(serviceType)
	// Tickets start at 1: GetWork and Client.GetWork use 0 for "no work".
	ticket = types.Ticket(atomic.AddUint64(&b.seq, 1))

	q.mu.Lock()
	q.nextSeq++
	heap.Push(&q.heap, &item{ticket: ticket, isVIP: isVIP, arrival: q.nextSeq})
	depth := len(q.heap)
	q.mu.Unlock()

	return ticket, uint32(depth) * 1000
}

// GetWork pops the highest-priority ticket for serviceType and records
// workerPID as its holder. Returns ticket==0, isVIP==false when the queue
// is empty ("no work right now", spec §4.5).
func (b *Broker) GetWork(serviceType int, workerPID int32) (ticket types.Ticket, isVIP bool) {
	q := b.queueFor(serviceType)

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return 0, false
	}
	it := heap.Pop(&q.heap).(*item)
	q.assigned[it.ticket] = workerPID
	return it.ticket, it.isVIP
}

// Release clears the assignment record once a worker finishes serving
// ticket, so a future diagnostic query does not report it as held.
func (b *Broker) Release(serviceType int, ticket types.Ticket) {
	q := b.queueFor(serviceType)
	q.mu.Lock()
	delete(q.assigned, ticket)
	q.mu.Unlock()
}

// Depth reports how many tickets are currently queued for serviceType.
func (b *Broker) Depth(serviceType int) int {
	q := b.queueFor(serviceType)
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

func (b *Broker) queueFor(serviceType int) *serviceQueue {
	if serviceType < 0 || serviceType >= len(b.queues) {
		serviceType = 0
	}
	return b.queues[serviceType]
}
