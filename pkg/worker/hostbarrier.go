package worker

import "sync"

// hostBarrier lets one representative goroutine perform the Director-facing
// handshake (pkg/barrier.Participant) and then release every other worker
// goroutine on the same host together, matching the spec's "the
// multi-threaded worker process registers as a single participant
// regardless of thread count" (§4.3, §4.7 step 2). It is a plain
// generation counter guarded by sync.Cond: no process-shared primitive is
// needed here because every worker goroutine on a host lives in the same
// OS process.
type hostBarrier struct {
	mu  sync.Mutex
	c   *sync.Cond
	gen uint64
}

func newHostBarrier() *hostBarrier {
	hb := &hostBarrier{}
	hb.c = sync.NewCond(&hb.mu)
	return hb
}

// release bumps the generation and wakes every peer blocked in waitNext.
func (hb *hostBarrier) release() {
	hb.mu.Lock()
	hb.gen++
	hb.c.Broadcast()
	hb.mu.Unlock()
}

// waitNext blocks until release has been called at least once since last,
// returning the new generation.
func (hb *hostBarrier) waitNext(last uint64) uint64 {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	for hb.gen == last {
		hb.c.Wait()
	}
	return hb.gen
}
