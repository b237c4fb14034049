// Package metrics provides Prometheus metrics for the keyprint identification service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Identification pipeline
	identifications        *prometheus.CounterVec
	identifyConfidence     prometheus.Histogram
	identifyLatency        prometheus.Histogram
	subjectsEliminated     prometheus.Counter
	evidenceSessionsActive prometheus.Gauge
	featureExtractions     prometheus.Counter
	calibrationFallbacks   prometheus.Counter

	// Training
	trainingRuns     prometheus.Counter
	trainingFailures prometheus.Counter
	trainingDuration prometheus.Histogram
	modelLabels      prometheus.Gauge
	modelReloads     prometheus.Counter

	// Persistence
	sessionsPersisted prometheus.Counter
	persistenceErrors prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a new metrics manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "keyprint",
		subsystem:        "profiler",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.identifications = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "identifications_total",
		Help:      "Total identify requests by verdict status",
	}, []string{"status"})

	m.identifyConfidence = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "identify_confidence",
		Help:      "Distribution of final identification confidence",
		Buckets:   prometheus.LinearBuckets(0.0, 0.1, 11),
	})

	m.identifyLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "identify_latency_ms",
		Help:      "End-to-end identify pipeline latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.subjectsEliminated = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "subjects_eliminated_total",
		Help:      "Total subjects eliminated by progressive elimination",
	})

	m.evidenceSessionsActive = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "evidence_sessions_active",
		Help:      "Number of live identification sessions in the evidence cache",
	})

	m.featureExtractions = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "feature_extractions_total",
		Help:      "Total feature vectors extracted",
	})

	m.calibrationFallbacks = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "calibration_fallbacks_total",
		Help:      "Softmax underflow/NaN recoveries that produced a uniform distribution",
	})

	m.trainingRuns = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "training_runs_total",
		Help:      "Total completed training runs",
	})

	m.trainingFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "training_failures_total",
		Help:      "Total failed training runs",
	})

	m.trainingDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "training_duration_seconds",
		Help:      "Wall-clock duration of training runs",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	m.modelLabels = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "model_labels",
		Help:      "Number of subjects known to the live model",
	})

	m.modelReloads = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "model_reloads_total",
		Help:      "Total live model artifact swaps",
	})

	m.sessionsPersisted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sessions_persisted_total",
		Help:      "Total labeled sessions written to the store",
	})

	m.persistenceErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "persistence_errors_total",
		Help:      "Total store write failures",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by endpoint, method and status",
	}, []string{"endpoint", "method", "status"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status"})
}

// Identification pipeline functions.

// RecordIdentification increments the identify counter for a verdict status.
func RecordIdentification(status string) {
	globalManager.identifications.WithLabelValues(status).Inc()
}

// RecordIdentifyConfidence records the final confidence of an identify call.
func RecordIdentifyConfidence(confidence float64) {
	globalManager.identifyConfidence.Observe(confidence)
}

// RecordIdentifyLatency records the end-to-end identify latency.
func RecordIdentifyLatency(latencyMs float64) {
	globalManager.identifyLatency.Observe(latencyMs)
}

// RecordSubjectEliminated increments the progressive-elimination counter.
func RecordSubjectEliminated() {
	globalManager.subjectsEliminated.Inc()
}

// UpdateEvidenceSessions sets the number of active evidence sessions.
func UpdateEvidenceSessions(count int) {
	globalManager.evidenceSessionsActive.Set(float64(count))
}

// RecordFeatureExtraction increments the feature extraction counter.
func RecordFeatureExtraction() {
	globalManager.featureExtractions.Inc()
}

// RecordCalibrationFallback increments the uniform-fallback counter.
func RecordCalibrationFallback() {
	globalManager.calibrationFallbacks.Inc()
}

// Training functions.

// RecordTrainingRun increments the completed training run counter.
func RecordTrainingRun() {
	globalManager.trainingRuns.Inc()
}

// RecordTrainingFailure increments the failed training run counter.
func RecordTrainingFailure() {
	globalManager.trainingFailures.Inc()
}

// RecordTrainingDuration records the wall-clock duration of a training run.
func RecordTrainingDuration(seconds float64) {
	globalManager.trainingDuration.Observe(seconds)
}

// UpdateModelLabels sets the number of subjects in the live model.
func UpdateModelLabels(count int) {
	globalManager.modelLabels.Set(float64(count))
}

// RecordModelReload increments the artifact swap counter.
func RecordModelReload() {
	globalManager.modelReloads.Inc()
}

// Persistence functions.

// RecordSessionPersisted increments the persisted session counter.
func RecordSessionPersisted() {
	globalManager.sessionsPersisted.Inc()
}

// RecordPersistenceError increments the store failure counter.
func RecordPersistenceError() {
	globalManager.persistenceErrors.Inc()
}

// HTTP functions.

// RecordHTTPRequest records an HTTP request with endpoint, method and status labels.
func RecordHTTPRequest(endpoint, method, status string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, status).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// GetRegistry returns the custom Prometheus registry used by the service.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
