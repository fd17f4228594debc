package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

const namespace = "docpipe"

// PipelineMetrics implements ports.PipelineMetrics and the resilience hooks.
type PipelineMetrics struct {
	registry *prometheus.Registry
	service  string

	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	runsInFlight   prometheus.Gauge
	stageDuration  *prometheus.HistogramVec
	rejectedTotal  *prometheus.CounterVec
	queueLag       *prometheus.HistogramVec
	retriesTotal   *prometheus.CounterVec
	breakerChanges *prometheus.CounterVec
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()

	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total finished pipeline runs by terminal status.",
		},
		[]string{"service", "status"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Pipeline run duration in seconds by terminal status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	runsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_in_flight",
			Help:      "Number of pipeline runs in progress.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Stage execution duration in seconds by stage and outcome.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 120},
		},
		[]string{"service", "stage", "outcome"},
	)
	rejectedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "rejected_total",
			Help:      "Total rejected uploads by reason.",
		},
		[]string{"service", "reason"},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between document upload and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	retriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "retries_total",
			Help:      "Total retry attempts by operation.",
		},
		[]string{"service", "operation"},
	)
	breakerChanges := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions by operation and target state.",
		},
		[]string{"service", "operation", "to"},
	)

	registry.MustRegister(runsTotal, runDuration, runsInFlight, stageDuration, rejectedTotal, queueLag, retriesTotal, breakerChanges)

	return &PipelineMetrics{
		registry:       registry,
		service:        service,
		runsTotal:      runsTotal,
		runDuration:    runDuration,
		runsInFlight:   runsInFlight,
		stageDuration:  stageDuration,
		rejectedTotal:  rejectedTotal,
		queueLag:       queueLag,
		retriesTotal:   retriesTotal,
		breakerChanges: breakerChanges,
	}
}

func (m *PipelineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) RunStarted() {
	m.runsInFlight.Inc()
}

func (m *PipelineMetrics) RunFinished(status domain.DocumentStatus, duration time.Duration) {
	m.runsInFlight.Dec()
	m.runsTotal.WithLabelValues(m.service, string(status)).Inc()
	m.runDuration.WithLabelValues(m.service, string(status)).Observe(duration.Seconds())
}

func (m *PipelineMetrics) StageObserved(stage domain.Stage, outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.stageDuration.WithLabelValues(m.service, stage.String(), outcome).Observe(duration.Seconds())
}

func (m *PipelineMetrics) UploadRejected(reason domain.RejectionReason) {
	m.rejectedTotal.WithLabelValues(m.service, string(reason)).Inc()
}

func (m *PipelineMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(m.service).Observe(lag.Seconds())
}

// RetryAttempted matches resilience.Config.OnRetry.
func (m *PipelineMetrics) RetryAttempted(operation string, _ int, _ error) {
	m.retriesTotal.WithLabelValues(m.service, operation).Inc()
}

// BreakerStateChanged matches resilience.Config.OnStateChange.
func (m *PipelineMetrics) BreakerStateChanged(operation, _, to string) {
	m.breakerChanges.WithLabelValues(m.service, operation, to).Inc()
}
