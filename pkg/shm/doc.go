// Package shm owns the single shared memory region every post office
// process maps: Director, Ticket Issuer, Work Broker, worker hosts, the
// Users Manager and every user agent all attach the same file via
// MAP_SHARED and treat its contents as the one source of truth for clock,
// barrier, per-service queues and worker state.
//
// # Layout
//
// layout.go defines the cache-line-aligned structs that make up the
// region: a fixed Header (params, clock, stats, barrier, load-balance
// counters, the ticket sequence, and one QueueBlock per service type)
// followed by a trailing array of WorkerRecord, one per worker, sized at
// creation time from params.n_workers.
//
// # Lifecycle
//
// region.go implements Create (Director only), Attach (every other
// participant), Detach and Destroy, matching the create/attach/detach/
// destroy contract the top-level design calls for.
//
// # Synchronization
//
// futex_linux.go implements Mutex and Cond directly on raw shared-memory
// words using the Linux futex syscall with shared (non-private) wake/wait
// operations, since waiters live in different OS processes; futex_other.go
// is a polling fallback for non-Linux builds, correct only within a single
// process.
//
// # Queues
//
// ring.go implements the fixed-capacity per-service ticket ring: the
// Ticket Issuer pushes at the tail, workers pop at the head, and a LastFinishedTicket word
// plus CondServed lets a user's goroutine learn when its own ticket has
// been served. Because LastFinishedTicket holds only the most recent
// value, a waiter that misses every broadcast between two completions of
// other tickets would stall past its deadline; WaitServed's bounded
// re-check interval keeps that window small in practice.
package shm
