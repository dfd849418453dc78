// Package health implements liveness checks the Director runs alongside
// its process-exit monitor (pkg/director's monitorChildren): a barrier
// checker that flags a day-start barrier stuck below its required ready
// count, a worker-liveness checker that signal-probes each worker
// record's PID, and a queue-drain checker that flags a service queue
// pinned at capacity across repeated checks. Unlike process-exit
// detection, these catch a participant that is still running but wedged.
package health
