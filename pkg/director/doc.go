// Package director implements the Director process: it creates and owns
// the shared memory region for the run's lifetime, is the single
// authoritative writer of simulated time (clock.go), drives the
// day-start barrier (via pkg/barrier), invokes the optional load balancer
// once per check interval (via pkg/loadbalancer), and supervises every
// other participant as a child process — spawning with a parent-death
// signal, reaping via a per-child Wait goroutine, and terminating
// gracefully on TERM/INT, overflow, or simulated-duration expiry
// (spawn.go, monitor.go, signals.go). report.go logs a final run summary
// from the shared region's stats block; nothing is ever persisted to
// disk, matching the simulation's explicit no-persistence non-goal.
package director
