/*
Package metrics provides Prometheus metrics collection and exposition
for the Ankaios server and agent binaries.

All metrics are registered at package init via MustRegister and served
from the /metrics HTTP endpoint (promhttp.Handler). Health and
readiness are tracked separately in health.go and served from /health,
/ready, and /live.

# Metrics Catalog

Transport (C2):

	ankaios_transport_sessions{peer_kind}        Gauge   active sessions by "agent"/"cli"
	ankaios_transport_reconnects_total           Counter agent-side reconnect attempts

Workload control loop and retry manager (C5):

	ankaios_workload_transitions_total{state}    Counter execution-state transitions
	ankaios_retry_backoff_seconds                Histogram computed backoff before jitter
	ankaios_workload_create_duration_seconds     Histogram runtime connector create_workload latency
	ankaios_workload_delete_duration_seconds     Histogram runtime connector delete_workload latency

Scheduler (C6):

	ankaios_scheduler_queue_depth{queue}         Gauge pending operations, "start"/"delete" queues

Server (C9/C10):

	ankaios_desired_state_update_duration_seconds Histogram UpdateStateRequest apply latency
	ankaios_agents_connected                      Gauge connected agent sessions
	ankaios_control_interface_requests_total{outcome} Counter Control Interface requests by "ok"/"error"

# Usage

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.WorkloadCreateDuration)

	metrics.WorkloadTransitionsTotal.WithLabelValues("running").Inc()

# Collector

Collector periodically samples gauges that are expensive to keep
exactly current on every mutation (scheduler queue depth); wired by
cmd/ank-agent over its scheduler.Queue. Counters and state that already
change at well-defined call sites (AgentsConnectedTotal, session
counts) are updated directly instead, since a periodic sampler would
only make them stale between ticks.
*/
package metrics
