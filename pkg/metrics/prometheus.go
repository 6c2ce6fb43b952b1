// Package metrics provides Prometheus metrics for the momentum engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for calculations_total.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Manager owns every Prometheus metric of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Calculation metrics
	calculations       *prometheus.CounterVec
	calculationErrors  *prometheus.CounterVec
	calculationLatency prometheus.Histogram
	stageLatency       *prometheus.HistogramVec
	momentumStates     *prometheus.CounterVec
	hysteresisHolds    *prometheus.CounterVec
	eventsIgnored      prometheus.Counter
	conflictRetries    prometheus.Counter

	// Batch metrics
	batchRuns     prometheus.Counter
	batchUsers    *prometheus.CounterVec
	batchDuration prometheus.Histogram

	// Store metrics
	storeLatency *prometheus.HistogramVec

	// Queue and worker metrics
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueRejected      prometheus.Counter
	recalcDuplicates   prometheus.Counter
	workerCount        prometheus.Gauge
	workerActive       prometheus.Gauge
	workerJobLatency   prometheus.Histogram
	backfillInsertions prometheus.Counter

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	customRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "momentum",
		subsystem:        "engine",
		histogramBuckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.constLabels, Buckets: m.histogramBuckets,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric
	auto := promauto.With(m.registry)

	m.calculations = auto.NewCounterVec(m.counterOpts("calculations_total",
		"Per-user score calculations by outcome"), []string{"outcome"})
	m.calculationErrors = auto.NewCounterVec(m.counterOpts("calculation_errors_total",
		"Failed calculations by error kind and pipeline stage"), []string{"kind", "stage"})
	m.calculationLatency = auto.NewHistogram(m.histogramOpts("calculation_latency_milliseconds",
		"End-to-end latency of one user's calculation"))
	m.stageLatency = auto.NewHistogramVec(m.histogramOpts("stage_latency_milliseconds",
		"Latency of each calculation stage"), []string{"stage"})
	m.momentumStates = auto.NewCounterVec(m.counterOpts("momentum_state_total",
		"Persisted scores by resulting momentum state"), []string{"state"})
	m.hysteresisHolds = auto.NewCounterVec(m.counterOpts("hysteresis_holds_total",
		"Classifications where hysteresis kept the previous state"), []string{"state"})
	m.eventsIgnored = auto.NewCounter(m.counterOpts("events_ignored_total",
		"Events skipped during aggregation (unknown type or out of scope)"))
	m.conflictRetries = auto.NewCounter(m.counterOpts("conflict_retries_total",
		"Persistence conflicts retried with a fresh read"))

	m.batchRuns = auto.NewCounter(m.counterOpts("batch_runs_total",
		"Batch calculations started"))
	m.batchUsers = auto.NewCounterVec(m.counterOpts("batch_users_total",
		"Users processed by batch calculations by result"), []string{"result"})
	m.batchDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name:    "batch_duration_seconds",
		Help:    "Wall time of a batch calculation",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	})

	m.storeLatency = auto.NewHistogramVec(m.histogramOpts("store_latency_milliseconds",
		"Record store call latency by operation"), []string{"op"})

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size",
		"Recalculation jobs waiting in the queue"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity",
		"Capacity of the recalculation queue"))
	m.queueEnqueued = auto.NewCounter(m.counterOpts("queue_enqueued_total",
		"Recalculation jobs accepted"))
	m.queueRejected = auto.NewCounter(m.counterOpts("queue_rejected_total",
		"Recalculation jobs rejected because the queue was full"))
	m.recalcDuplicates = auto.NewCounter(m.counterOpts("recalculation_duplicates_total",
		"Recalculation requests collapsed onto an in-flight job"))
	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count",
		"Configured recalculation workers"))
	m.workerActive = auto.NewGauge(m.gaugeOpts("worker_active",
		"Recalculation workers currently busy"))
	m.workerJobLatency = auto.NewHistogram(m.histogramOpts("worker_job_latency_milliseconds",
		"Latency of one recalculation job"))
	m.backfillInsertions = auto.NewCounter(m.counterOpts("backfill_inserted_total",
		"Default score rows written by backfill"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total",
		"HTTP requests by endpoint, method and status"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds"), []string{"endpoint", "method", "status_code"})
}

// RecordCalculation counts one finished calculation.
func RecordCalculation(outcome string, latencyMs float64) {
	globalManager.calculations.WithLabelValues(outcome).Inc()
	globalManager.calculationLatency.Observe(latencyMs)
}

// RecordCalculationError counts a failed calculation by kind and stage.
func RecordCalculationError(kind, stage string) {
	globalManager.calculationErrors.WithLabelValues(kind, stage).Inc()
}

// RecordStageLatency records how long one pipeline stage took.
func RecordStageLatency(stage string, latencyMs float64) {
	globalManager.stageLatency.WithLabelValues(stage).Observe(latencyMs)
}

// RecordMomentumState counts a persisted state.
func RecordMomentumState(state string) {
	globalManager.momentumStates.WithLabelValues(state).Inc()
}

// RecordHysteresisHold counts a classification held by hysteresis.
func RecordHysteresisHold(state string) {
	globalManager.hysteresisHolds.WithLabelValues(state).Inc()
}

// RecordEventsIgnored adds n ignored events.
func RecordEventsIgnored(n int) {
	if n > 0 {
		globalManager.eventsIgnored.Add(float64(n))
	}
}

// RecordConflictRetry counts a retried persistence conflict.
func RecordConflictRetry() {
	globalManager.conflictRetries.Inc()
}

// RecordBatch records a finished batch run.
func RecordBatch(successful, failed, skipped int, seconds float64) {
	globalManager.batchRuns.Inc()
	globalManager.batchUsers.WithLabelValues("successful").Add(float64(successful))
	globalManager.batchUsers.WithLabelValues("failed").Add(float64(failed))
	globalManager.batchUsers.WithLabelValues("skipped").Add(float64(skipped))
	globalManager.batchDuration.Observe(seconds)
}

// RecordStoreLatency records one store call.
func RecordStoreLatency(op string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(op).Observe(latencyMs)
}

// UpdateQueueSize sets the current queue depth.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue counts an accepted job.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueRejected counts a job refused for backpressure.
func RecordQueueRejected() {
	globalManager.queueRejected.Inc()
}

// RecordRecalculationDuplicate counts a collapsed duplicate request.
func RecordRecalculationDuplicate() {
	globalManager.recalcDuplicates.Inc()
}

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// WorkerBusy marks one worker busy; call the returned func when it is idle again.
func WorkerBusy() func() {
	globalManager.workerActive.Inc()
	return globalManager.workerActive.Dec
}

// RecordWorkerJobLatency records one recalculation job.
func RecordWorkerJobLatency(latencyMs float64) {
	globalManager.workerJobLatency.Observe(latencyMs)
}

// RecordBackfillInserted adds n backfilled rows.
func RecordBackfillInserted(n int) {
	if n > 0 {
		globalManager.backfillInsertions.Add(float64(n))
	}
}

// RecordHTTPRequest increments the HTTP requests counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
