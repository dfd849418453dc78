/*
Package worker implements the worker-host process: one OS process running
Config.Count worker goroutines, each registered in its own shared-memory
WorkerRecord slot.

# Registration and the day barrier

Each goroutine registers itself OFFLINE->FREE at startup (spec §4.7 step 1).
Before each day's service phase, a single representative goroutine (the
first on the host) performs the Director-facing handshake via
pkg/barrier.Participant, then releases every other goroutine on the host
through a process-local hostBarrier — matching the spec's requirement that
"the multi-threaded worker process registers as a single participant
regardless of thread count" (§4.3, §4.7 step 2).

# Service phase

Between barriers, each goroutine independently: checks for a pending
reassignment from the load balancer, pops the next ticket (from the shared
ring via pkg/shm, or from the Work Broker via pkg/broker.Client if
configured), transitions FREE->BUSY, sleeps in small chunks while
rechecking the clock for the 17:00 cutoff, then transitions BUSY->FREE with
the completion sentinel and marks the ticket served (spec §4.7 step 3).
*/
package worker
