package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Self-healing supervisor metrics
	SelfHealingHealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "self_healing_agent_healthy",
			Help: "Whether the self-healing control loop is writing fresh heartbeats (1) or not (0)",
		},
	)

	SelfHealingSecondsSinceHeartbeat = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "self_healing_agent_seconds_since_heartbeat",
			Help: "Seconds elapsed since the last recorded heartbeat",
		},
	)

	SelfHealingCheckCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "self_healing_agent_check_count",
			Help: "Total number of healing cycles completed since process start",
		},
	)

	RecoveryActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "self_healing_recovery_actions_total",
			Help: "Total number of recovery actions taken by category",
		},
		[]string{"category", "unit"},
	)

	// Document indexer metrics
	DocumentsIndexedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "document_indexer_indexed_total",
			Help: "Total number of documents successfully indexed",
		},
	)

	DocumentsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "document_indexer_failed_total",
			Help: "Total number of documents that failed processing",
		},
	)

	IngestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "document_indexer_ingest_duration_seconds",
			Help:    "Time taken to process a single document end to end",
			Buckets: prometheus.DefBuckets,
		},
	)

	// GPU telemetry metrics
	GPUTemperatureCelsius = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gpu_temperature_celsius",
			Help: "Last sampled GPU temperature in Celsius",
		},
		[]string{"gpu"},
	)

	GPUUtilizationPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gpu_utilization_percent",
			Help: "Last sampled GPU utilization percentage",
		},
		[]string{"gpu"},
	)
)

func init() {
	prometheus.MustRegister(SelfHealingHealthy)
	prometheus.MustRegister(SelfHealingSecondsSinceHeartbeat)
	prometheus.MustRegister(SelfHealingCheckCount)
	prometheus.MustRegister(RecoveryActionsTotal)

	prometheus.MustRegister(DocumentsIndexedTotal)
	prometheus.MustRegister(DocumentsFailedTotal)
	prometheus.MustRegister(IngestDuration)

	prometheus.MustRegister(GPUTemperatureCelsius)
	prometheus.MustRegister(GPUUtilizationPercent)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
