package observability

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every Prometheus collector the service registers. The
// teacher's original Metrics was a no-op stub (nopCounter/nopGauge/...)
// despite go.mod requiring client_golang and otel.go wiring a Prometheus
// exporter directly — real collectors replace it here so those
// dependencies are actually exercised, not just declared.
type Metrics struct {
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration     *prometheus.HistogramVec
	MessagesProcessedTotal *prometheus.CounterVec
	ActiveConnections      prometheus.Gauge
	CreditOperationsTotal  *prometheus.CounterVec
	QueueDepth             prometheus.Gauge
	RetryAttemptsTotal     *prometheus.CounterVec

	// Scheduler-specific collectors (spec §6 observability triggers and
	// §8 stats).
	SchedulerIdleThreads   prometheus.Gauge
	SchedulerActiveThreads prometheus.Gauge
	SchedulerQueueDepth    prometheus.Gauge
	SchedulerDispatched    prometheus.Counter
	SchedulerRejected      prometheus.Counter
	SchedulerDeadlineMiss  prometheus.Counter
	SchedulerTriggersTotal *prometheus.CounterVec
	SchedulerTimeInQueue   prometheus.Histogram
}

// NewMetrics builds and registers every collector against reg. Pass
// prometheus.NewRegistry() in production (the same registry handed to
// otel/exporters/prometheus in otel.go) or prometheus.NewPedanticRegistry()
// in tests to avoid cross-test collisions.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aaad_http_requests_total",
			Help: "Total HTTP requests by method, path, status and client.",
		}, []string{"method", "path", "status", "client_id"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aaad_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		MessagesProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aaad_messages_processed_total",
			Help: "Messages processed by terminal status.",
		}, []string{"status"}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aaad_active_connections",
			Help: "Currently open client connections.",
		}),
		CreditOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aaad_credit_operations_total",
			Help: "Billing hold/capture/release operations by outcome.",
		}, []string{"operation", "outcome"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aaad_queue_depth",
			Help: "Depth of the NATS ingress queue (not the scheduler's own heap).",
		}),
		RetryAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aaad_retry_attempts_total",
			Help: "Delivery retry attempts by outcome.",
		}, []string{"outcome"}),

		SchedulerIdleThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aaad_scheduler_idle_threads",
			Help: "Worker goroutines currently idle.",
		}),
		SchedulerActiveThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aaad_scheduler_active_threads",
			Help: "Worker goroutines currently processing a request.",
		}),
		SchedulerQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aaad_scheduler_queue_depth",
			Help: "Requests currently resident in the pending-request heap.",
		}),
		SchedulerDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aaad_scheduler_dispatched_total",
			Help: "Requests handed off to a worker.",
		}),
		SchedulerRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aaad_scheduler_rejected_total",
			Help: "Requests rejected by admission control.",
		}),
		SchedulerDeadlineMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aaad_scheduler_deadline_exceeded_total",
			Help: "Requests cancelled by the deadline enforcer.",
		}),
		SchedulerTriggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aaad_scheduler_triggers_total",
			Help: "Named scheduler triggers fired (server.thread.start/stop/unresponsive).",
		}, []string{"trigger"}),
		SchedulerTimeInQueue: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aaad_scheduler_time_in_queue_seconds",
			Help:    "Time a request spent in the pending heap before dispatch.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal, m.HTTPRequestDuration, m.MessagesProcessedTotal,
		m.ActiveConnections, m.CreditOperationsTotal, m.QueueDepth, m.RetryAttemptsTotal,
		m.SchedulerIdleThreads, m.SchedulerActiveThreads, m.SchedulerQueueDepth,
		m.SchedulerDispatched, m.SchedulerRejected, m.SchedulerDeadlineMiss,
		m.SchedulerTriggersTotal, m.SchedulerTimeInQueue,
	)

	return m
}
