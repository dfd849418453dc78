package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "postoffice_workers_total",
			Help: "Total number of workers by state (free, busy)",
		},
		[]string{"state"},
	)

	WorkerReassignmentsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "postoffice_worker_reassignments_pending",
			Help: "Number of workers with a reassignment flag currently set",
		},
	)

	// Queue metrics
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "postoffice_queue_depth",
			Help: "Current number of waiting tickets per service queue",
		},
		[]string{"service_type"},
	)

	QueueServedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postoffice_queue_served_total",
			Help: "Total tickets served per service queue",
		},
		[]string{"service_type"},
	)

	// Ticket / service issuance metrics
	TicketsIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "postoffice_tickets_issued_total",
			Help: "Total tickets issued by the Ticket Issuer",
		},
	)

	ServicesCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "postoffice_services_completed_total",
			Help: "Total services completed across all workers",
		},
	)

	ServicesAbandonedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "postoffice_services_abandoned_total",
			Help: "Total in-progress services abandoned at closing time",
		},
	)

	ServiceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "postoffice_service_duration_seconds",
			Help:    "Wall-clock duration of one simulated service, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Barrier metrics
	BarrierActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "postoffice_barrier_active",
			Help: "Whether the day-start barrier is currently open (1) or resolved (0)",
		},
	)

	BarrierReadyCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "postoffice_barrier_ready_count",
			Help: "Participants that have joined the current day-start barrier",
		},
	)

	BarrierWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "postoffice_barrier_wait_duration_seconds",
			Help:    "Time the Director spent waiting for every participant at a day rollover",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Load balancer metrics
	LoadBalanceChecksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "postoffice_load_balance_checks_total",
			Help: "Total load-balance evaluations performed",
		},
	)

	LoadBalanceRebalancesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "postoffice_load_balance_rebalances_total",
			Help: "Total rebalances triggered because of queue imbalance",
		},
	)

	LoadBalanceWorkersReassignedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "postoffice_load_balance_workers_reassigned_total",
			Help: "Total worker reassignments performed by the load balancer",
		},
	)

	// Users / population metrics
	UsersConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "postoffice_users_connected",
			Help: "Currently connected user agents",
		},
	)

	UsersSpawnedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "postoffice_users_spawned_total",
			Help: "Total user agents spawned since simulation start",
		},
	)

	UsersTarget = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "postoffice_users_target",
			Help: "Current target user population for the Users Manager",
		},
	)

	// Clock metrics
	SimulatedDay = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "postoffice_simulated_day",
			Help: "Current simulated day number",
		},
	)

	SimulationActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "postoffice_simulation_active",
			Help: "Whether the simulation clock is active (1) or terminated (0)",
		},
	)
)

func init() {
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(WorkerReassignmentsPending)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(QueueServedTotal)
	prometheus.MustRegister(TicketsIssuedTotal)
	prometheus.MustRegister(ServicesCompletedTotal)
	prometheus.MustRegister(ServicesAbandonedTotal)
	prometheus.MustRegister(ServiceDuration)
	prometheus.MustRegister(BarrierActive)
	prometheus.MustRegister(BarrierReadyCount)
	prometheus.MustRegister(BarrierWaitDuration)
	prometheus.MustRegister(LoadBalanceChecksTotal)
	prometheus.MustRegister(LoadBalanceRebalancesTotal)
	prometheus.MustRegister(LoadBalanceWorkersReassignedTotal)
	prometheus.MustRegister(UsersConnected)
	prometheus.MustRegister(UsersSpawnedTotal)
	prometheus.MustRegister(UsersTarget)
	prometheus.MustRegister(SimulatedDay)
	prometheus.MustRegister(SimulationActive)
}

// Handler returns the Prometheus HTTP handler, served by the Director's
// optional control surface (spec's "Control/metrics surface (external)").
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
