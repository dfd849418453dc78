// Package metrics registers Prometheus gauges, counters, and histograms
// for the simulation's external control/metrics surface: no core package
// depends on Prometheus directly, they either call an Inc/Observe at the
// event site (tickets issued, services completed or abandoned,
// rebalances triggered) or are read by the Collector.
//
// # Collector
//
// collector.go's Collector polls a shared region on an interval and
// republishes its current state into gauges (worker state counts, queue
// depth, barrier state, simulated day, user population), the same role
// cuemby-warren's manager.MetricsCollector plays for cluster state. The
// Director runs one Collector for the whole region; Handler exposes the
// registry over HTTP for an external scraper.
//
// # Timer
//
// Timer is a small helper for observing operation durations into a
// histogram. No package uses it yet: pkg/worker records ServiceDuration
// with time.Since directly.
package metrics
