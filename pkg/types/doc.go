/*
Package types defines the value-level vocabulary shared across every role
process in the post office simulation: parameters, clock, worker state,
tickets, and the load-balancer and config structs decoded from the shared
region described by pkg/shm.

# Architecture

pkg/shm owns the raw, cache-line-aligned memory layout and the
process-shared synchronization primitives. pkg/types owns the plain Go
values that get encoded into and decoded out of that layout, so that the
rest of the code base (director, issuer, broker, worker, user, usersmanager)
speaks in ordinary Go types instead of unsafe.Pointer arithmetic.

# Core Types

  - Params: immutable simulation parameters (n_workers, duration, tick
    length, explode threshold) set once by the Director at region creation.
  - Ticket: a monotonically increasing request identifier.
  - WorkerState: OFFLINE / FREE / BUSY / PAUSED.
  - ClockTime: the decoded (day, hour, minute) triple, with the working-hours
    helpers every participant uses to decide whether to wait for the office
    to open.
  - TerminationReason: why the Director's clock loop stopped — duration,
    overflow, signal, or crash (spec §7).
  - LoadBalanceConfig / LoadBalanceStats: §4.9 configuration and counters.
  - UsersManagerConfig / IssuerConfig: the two front-end-facing config
    structs assembled by pkg/config from the INI file and CLI flags.

# Thread Safety

Values in this package are plain data: copy them, don't share pointers to
them across goroutines. The shared, concurrently-mutated state lives in
pkg/shm behind atomics and process-shared mutexes; this package only
describes its decoded shape.
*/
package types
