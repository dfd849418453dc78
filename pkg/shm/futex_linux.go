//go:build linux

package shm

import (
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Mutex is a process-shared mutex backed by a single futex word living in
// the shared region. Classic Drepper three-state futex mutex: 0 unlocked,
// 1 locked with no waiters, 2 locked with waiters. Unlike sync.Mutex, the
// word is addressable memory shared across processes via MAP_SHARED, so
// plain CAS on it synchronizes director/issuer/broker/workerhost/
// usersmanager regardless of which OS process holds it (spec §4.1, §9).
type Mutex struct {
	word *uint32
}

// NewMutex wraps a futex word already living inside the shared region.
func NewMutex(word *uint32) *Mutex {
	return &Mutex{word: word}
}

// Lock blocks until the mutex is acquired.
func (m *Mutex) Lock() {
	if atomic.CompareAndSwapUint32(m.word, 0, 1) {
		return
	}
	for {
		old := atomic.LoadUint32(m.word)
		if old != 0 {
			if old != 2 {
				if !atomic.CompareAndSwapUint32(m.word, 1, 2) {
					continue
				}
			}
			_ = futexWait(m.word, 2, nil)
		}
		if atomic.CompareAndSwapUint32(m.word, 0, 2) {
			return
		}
	}
}

// Unlock releases the mutex, waking one waiter if any were recorded.
func (m *Mutex) Unlock() {
	old := atomic.SwapUint32(m.word, 0)
	if old == 2 {
		futexWake(m.word, 1)
	}
}

// Cond is a process-shared condition variable: a generation counter in the
// shared region, bumped and futex-woken on Signal/Broadcast. Mirrors the
// pairing the spec calls for in §9 ("pairing each wake with a state change
// the receiver re-validates") — callers must re-check their predicate
// after Wait returns, timeout or not.
type Cond struct {
	word *uint32
}

// NewCond wraps a futex word already living inside the shared region.
func NewCond(word *uint32) *Cond {
	return &Cond{word: word}
}

// Wait releases mu, blocks until Signal/Broadcast or timeout, then
// re-acquires mu. Returns false on timeout, true if it may have been
// woken (spurious wakeups are possible; callers must re-check).
func (c *Cond) Wait(mu *Mutex, timeout time.Duration) bool {
	seq := atomic.LoadUint32(c.word)
	mu.Unlock()
	defer mu.Lock()
	return futexWait(c.word, seq, &timeout) != unix.ETIMEDOUT
}

// Signal wakes at least one waiter.
func (c *Cond) Signal() {
	atomic.AddUint32(c.word, 1)
	futexWake(c.word, 1)
}

// Broadcast wakes all current waiters.
func (c *Cond) Broadcast() {
	atomic.AddUint32(c.word, 1)
	futexWake(c.word, int32(^uint32(0)>>1))
}

// futexWait blocks while *addr == expected, honoring an optional timeout.
// Shared (non-private) futex ops are used throughout since the word lives
// in a MAP_SHARED mapping visible to other processes.
func futexWait(addr *uint32, expected uint32, timeout *time.Duration) error {
	var ts *unix.Timespec
	if timeout != nil {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(unix.FUTEX_WAIT),
		uintptr(expected),
		uintptr(unsafe.Pointer(ts)),
		0, 0,
	)
	if errno != 0 {
		return errno
	}
	return nil
}

// futexWake wakes up to n waiters blocked on addr.
func futexWake(addr *uint32, n int32) {
	unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(unix.FUTEX_WAKE),
		uintptr(n),
		0, 0, 0,
	)
}
