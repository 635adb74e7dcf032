package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Transport metrics
	TransportSessionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ankaios_transport_sessions",
			Help: "Number of active transport sessions by peer kind (agent, cli)",
		},
		[]string{"peer_kind"},
	)

	TransportReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ankaios_transport_reconnects_total",
			Help: "Total number of agent-side transport reconnect attempts",
		},
	)

	// Workload control loop metrics
	WorkloadTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ankaios_workload_transitions_total",
			Help: "Total number of workload execution-state transitions by target state",
		},
		[]string{"state"},
	)

	RetryBackoffSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ankaios_retry_backoff_seconds",
			Help:    "Computed retry backoff duration in seconds before jitter",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	WorkloadCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ankaios_workload_create_duration_seconds",
			Help:    "Time taken for a runtime connector create_workload call",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkloadDeleteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ankaios_workload_delete_duration_seconds",
			Help:    "Time taken for a runtime connector delete_workload call",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Scheduler metrics
	SchedulerQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ankaios_scheduler_queue_depth",
			Help: "Number of workload operations waiting on dependencies, by queue",
		},
		[]string{"queue"},
	)

	// Desired-state / server metrics
	DesiredStateUpdateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ankaios_desired_state_update_duration_seconds",
			Help:    "Time taken to apply an UpdateStateRequest against the desired-state tree",
			Buckets: prometheus.DefBuckets,
		},
	)

	AgentsConnectedTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ankaios_agents_connected",
			Help: "Number of agents currently connected to the server",
		},
	)

	ControlInterfaceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ankaios_control_interface_requests_total",
			Help: "Total number of Control Interface requests handled by the server, by outcome (ok, error)",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		TransportSessionsTotal,
		TransportReconnectsTotal,
		WorkloadTransitionsTotal,
		RetryBackoffSeconds,
		WorkloadCreateDuration,
		WorkloadDeleteDuration,
		SchedulerQueueDepth,
		DesiredStateUpdateDuration,
		AgentsConnectedTotal,
		ControlInterfaceRequestsTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
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
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
