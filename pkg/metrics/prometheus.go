// Package metrics provides Prometheus metrics for the pricewatch monitoring pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the pricewatch service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	registry         prometheus.Registerer

	// Cycle Metrics - One entry per monitoring cycle
	cyclesStarted   prometheus.Counter
	cyclesRejected  prometheus.Counter
	cyclesCompleted *prometheus.CounterVec
	cycleDuration   prometheus.Histogram

	// Fetch Metrics - Marketplace adapter performance
	fetchesTotal  *prometheus.CounterVec
	fetchFailures *prometheus.CounterVec
	fetchLatency  prometheus.Histogram

	// Detection Metrics
	eventsDetected       *prometheus.CounterVec
	baselineReplacements prometheus.Counter

	// Dispatch Metrics - Outbound notification performance
	notificationsSent      prometheus.Counter
	notificationsFailed    prometheus.Counter
	notificationsDuplicate prometheus.Counter
	sendRetries            prometheus.Counter
	sendLatency            prometheus.Histogram

	// Queue Metrics - Price event queue
	queueCapacity      prometheus.Gauge
	queueSize          prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueErrors prometheus.Counter

	// Worker Metrics
	workerCount prometheus.Gauge

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "pricewatch",
		subsystem:        "monitor",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		registry:         prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	// Initialize metrics
	m.initializeMetrics()

	return m
}

// Handler exposes the custom registry for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(customRegistry, promhttp.HandlerOpts{})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	// Ensure metrics are registered on the configured registry (custom by default)
	auto := promauto.With(m.registry)

	// Cycle Metrics
	m.cyclesStarted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cycles_started_total",
		Help:      "Total number of monitoring cycles started",
	})

	m.cyclesRejected = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cycles_rejected_total",
		Help:      "Total number of cycle triggers rejected because a cycle was already running",
	})

	m.cyclesCompleted = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "cycles_finished_total",
			Help:      "Total number of finished cycles by terminal status",
		},
		[]string{"status"},
	)

	m.cycleDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cycle_duration_seconds",
		Help:      "Histogram of full cycle wall-clock duration in seconds",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Fetch Metrics
	m.fetchesTotal = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "fetches_total",
			Help:      "Total number of marketplace offer fetches",
		},
		[]string{"marketplace"},
	)

	m.fetchFailures = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "fetch_failures_total",
			Help:      "Total number of failed marketplace fetches by reason",
		},
		[]string{"marketplace", "reason"},
	)

	m.fetchLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "fetch_latency_milliseconds",
		Help:      "Histogram of marketplace fetch latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	// Detection Metrics
	m.eventsDetected = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "price_events_total",
			Help:      "Total number of alert-worthy price events by direction",
		},
		[]string{"direction"},
	)

	m.baselineReplacements = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "baseline_replacements_total",
		Help:      "Total number of price baselines replaced by fresh observations",
	})

	// Dispatch Metrics
	m.notificationsSent = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "notifications_sent_total",
		Help:      "Total number of notifications delivered to subscribers",
	})

	m.notificationsFailed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "notifications_failed_total",
		Help:      "Total number of notifications that exhausted their retry budget",
	})

	m.notificationsDuplicate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "notifications_duplicate_total",
		Help:      "Total number of sends skipped because a delivery record already existed",
	})

	m.sendRetries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "send_retries_total",
		Help:      "Total number of retried outbound sends",
	})

	m.sendLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "send_latency_milliseconds",
		Help:      "Histogram of outbound channel send latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	// Queue Metrics
	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "event_queue_capacity",
		Help:      "Configured capacity of the price event queue",
	})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "event_queue_size",
		Help:      "Current number of queued price events",
	})

	m.queueUtilization = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "event_queue_utilization",
		Help:      "Queue utilization as a ratio of size to capacity",
	})

	m.queueEnqueueErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "event_queue_enqueue_errors_total",
		Help:      "Total number of rejected enqueues (queue full or closed)",
	})

	// Worker Metrics
	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "fetch_worker_count",
		Help:      "Number of fetch workers in the current cycle pool",
	})

	// HTTP Performance Metrics
	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_request_duration_milliseconds",
			Help:      "Histogram of HTTP request duration in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	// System Performance Metrics
	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_memory_usage_bytes",
		Help:      "System memory usage in bytes",
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_goroutine_count",
		Help:      "Number of goroutines",
	})
}

// RecordCycleStarted increments the started cycles counter.
func RecordCycleStarted() {
	globalManager.cyclesStarted.Inc()
}

// RecordCycleRejected increments the rejected triggers counter.
func RecordCycleRejected() {
	globalManager.cyclesRejected.Inc()
}

// RecordCycleFinished records a finished cycle with its terminal status and duration.
func RecordCycleFinished(status string, duration time.Duration) {
	globalManager.cyclesCompleted.WithLabelValues(status).Inc()
	globalManager.cycleDuration.Observe(duration.Seconds())
}

// RecordFetch increments the fetch counter for a marketplace.
func RecordFetch(marketplace string) {
	globalManager.fetchesTotal.WithLabelValues(marketplace).Inc()
}

// RecordFetchFailure increments the fetch failure counter for a marketplace and reason.
func RecordFetchFailure(marketplace, reason string) {
	globalManager.fetchFailures.WithLabelValues(marketplace, reason).Inc()
}

// RecordFetchLatency records fetch latency in milliseconds.
func RecordFetchLatency(latencyMs float64) {
	globalManager.fetchLatency.Observe(latencyMs)
}

// RecordPriceEvent increments the detected events counter for a direction.
func RecordPriceEvent(direction string) {
	globalManager.eventsDetected.WithLabelValues(direction).Inc()
}

// RecordBaselineReplacement increments the baseline replacements counter.
func RecordBaselineReplacement() {
	globalManager.baselineReplacements.Inc()
}

// RecordNotificationSent increments the sent notifications counter.
func RecordNotificationSent() {
	globalManager.notificationsSent.Inc()
}

// RecordNotificationFailed increments the failed notifications counter.
func RecordNotificationFailed() {
	globalManager.notificationsFailed.Inc()
}

// RecordNotificationDuplicate increments the duplicate (skipped) notifications counter.
func RecordNotificationDuplicate() {
	globalManager.notificationsDuplicate.Inc()
}

// RecordSendRetry increments the send retries counter.
func RecordSendRetry() {
	globalManager.sendRetries.Inc()
}

// RecordSendLatency records outbound send latency in milliseconds.
func RecordSendLatency(latencyMs float64) {
	globalManager.sendLatency.Observe(latencyMs)
}

// UpdateQueueCapacity sets the configured queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueSize sets the current queue size and derived utilization.
func UpdateQueueSize(size, capacity int) {
	globalManager.queueSize.Set(float64(size))
	if capacity > 0 {
		globalManager.queueUtilization.Set(float64(size) / float64(capacity))
	}
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// UpdateWorkerCount sets the current fetch worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// UpdateSystemMemoryUsage sets the current memory usage.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the current goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}
