// Package loadbalancer implements the optional load-balancing pass the
// Director invokes once per configured check interval: find the most-
// and least-loaded service queues, and if the ratio between them clears
// imbalance_threshold_percent (and the overloaded queue clears
// min_queue_depth), reassign one idle worker from the underloaded service
// to the overloaded one. RunTicker is a convenience wrapper for callers
// that want Check driven from a background goroutine instead of the
// Director's own clock loop.
package loadbalancer
