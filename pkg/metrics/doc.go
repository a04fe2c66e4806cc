/*
Package metrics provides Prometheus metrics collection and exposition for the
appliance, plus a lightweight per-dependency health registry consumed by the
HTTP façade's /healthz/dependencies, /readyz, and /livez endpoints.

# Metrics Catalog

self_healing_agent_healthy:
  - Type: Gauge
  - Whether the self-healing control loop is writing fresh heartbeats

self_healing_agent_seconds_since_heartbeat:
  - Type: Gauge
  - Seconds elapsed since the last recorded heartbeat

self_healing_agent_check_count:
  - Type: Gauge
  - Total healing cycles completed since process start

self_healing_recovery_actions_total{category, unit}:
  - Type: Counter
  - Recovery ladder actions taken, labeled by action type and target unit

document_indexer_indexed_total / document_indexer_failed_total:
  - Type: Counter
  - Documents that completed or failed the ingest pipeline

document_indexer_ingest_duration_seconds:
  - Type: Histogram
  - End-to-end time to process one uploaded document

gpu_temperature_celsius{gpu} / gpu_utilization_percent{gpu}:
  - Type: Gauge
  - Last sampled reading per GPU index

# Usage

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.IngestDuration)

	http.Handle("/metrics", metrics.Handler())

# Health Registry

Components register their connectivity with RegisterComponent at startup and
on reconnect; GetHealth/GetReadiness aggregate those into the JSON bodies
served by HealthHandler/ReadyHandler. GetReadiness treats database,
vectorstore, and containerd as the critical set: any one of them unregistered
or unhealthy reports not_ready.
*/
package metrics
