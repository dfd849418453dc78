// Package broker implements the Work Broker: a priority-queued
// alternative to the Ticket Issuer's per-service FIFO rings. Each service
// type gets its own container/heap-backed min-heap ordered by (is_vip
// desc, arrival_time asc); JOIN_QUEUE enqueues and returns an advisory
// wait estimate, GET_WORK pops the highest-priority ticket and records
// which worker now holds it so at most one worker ever holds a given
// ticket number at a time.
package broker
