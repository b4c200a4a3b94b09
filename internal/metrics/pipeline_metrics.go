package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline metrics are registered lazily on the MetricsManager registry the
// first time business metrics are recorded
var (
	pipelineRunsTotal      *prometheus.CounterVec
	pipelineRunDuration    *prometheus.HistogramVec
	pipelineLastSuccess    prometheus.Gauge
	snapshotRoutes         *prometheus.GaugeVec
	esiRequestsTotal       *prometheus.CounterVec
	esiRequestDuration     *prometheus.HistogramVec
	esiFailuresTotal       *prometheus.CounterVec
	cacheLookupsTotal      *prometheus.CounterVec
	cacheWritesTotal       *prometheus.CounterVec
	storeOperationsTotal   *prometheus.CounterVec
	storeOperationDuration *prometheus.HistogramVec

	pipelineMetricsOnce sync.Once
)

func initializePipelineMetrics() {
	pipelineMetricsOnce.Do(func() {
		pipelineRunsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "esistatus_pipeline_runs_total",
				Help: "Total number of status pipeline runs by outcome",
			},
			[]string{"outcome"}, // "persisted", "skipped", "aborted", "locked"
		)

		pipelineRunDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "esistatus_pipeline_run_duration_seconds",
				Help:    "Time spent in a status pipeline run",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		)

		pipelineLastSuccess = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "esistatus_pipeline_last_success_timestamp_seconds",
				Help: "Unix time of the last run that persisted a snapshot",
			},
		)

		snapshotRoutes = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "esistatus_snapshot_routes",
				Help: "Routes in the persisted snapshot by health state",
			},
			[]string{"status"},
		)

		esiRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "esistatus_esi_requests_total",
				Help: "Total number of HTTP requests to ESI meta endpoints",
			},
			[]string{"endpoint", "status_code"},
		)

		esiRequestDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "esistatus_esi_request_duration_seconds",
				Help:    "Time spent making HTTP requests to ESI meta endpoints",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		)

		esiFailuresTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "esistatus_esi_failures_total",
				Help: "Total number of failed ESI fetches by failure kind",
			},
			[]string{"endpoint", "kind"}, // "transport", "status", "decode", "no_date"
		)

		cacheLookupsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "esistatus_cache_lookups_total",
				Help: "Total number of cache lookups",
			},
			[]string{"namespace", "result"}, // "hit", "miss", "error"
		)

		cacheWritesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "esistatus_cache_writes_total",
				Help: "Total number of cache writes",
			},
			[]string{"namespace", "status"},
		)

		storeOperationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "esistatus_store_operations_total",
				Help: "Total number of snapshot and lock store operations",
			},
			[]string{"backend", "operation", "status"},
		)

		storeOperationDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "esistatus_store_operation_duration_seconds",
				Help:    "Duration of snapshot and lock store operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend", "operation"},
		)

		GetInstance().registry.MustRegister(
			pipelineRunsTotal,
			pipelineRunDuration,
			pipelineLastSuccess,
			snapshotRoutes,
			esiRequestsTotal,
			esiRequestDuration,
			esiFailuresTotal,
			cacheLookupsTotal,
			cacheWritesTotal,
			storeOperationsTotal,
			storeOperationDuration,
		)
	})
}

// RecordPipelineRun records the outcome and duration of a pipeline run
func RecordPipelineRun(outcome string, startTime time.Time) {
	if !BusinessMetricsEnabled() {
		return
	}
	initializePipelineMetrics()

	pipelineRunsTotal.WithLabelValues(outcome).Inc()
	pipelineRunDuration.WithLabelValues(outcome).Observe(time.Since(startTime).Seconds())
	if outcome == "persisted" {
		pipelineLastSuccess.SetToCurrentTime()
	}
}

// RecordSnapshotRoutes replaces the per-state route gauges with counts
func RecordSnapshotRoutes(counts map[string]int) {
	if !BusinessMetricsEnabled() {
		return
	}
	initializePipelineMetrics()

	snapshotRoutes.Reset()
	for status, count := range counts {
		snapshotRoutes.WithLabelValues(status).Set(float64(count))
	}
}

// RecordESIRequest records an HTTP request to ESI. statusCode is 0 when the
// request failed before a response arrived.
func RecordESIRequest(endpoint string, statusCode int, duration time.Duration) {
	if !BusinessMetricsEnabled() {
		return
	}
	initializePipelineMetrics()

	esiRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
	esiRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordESIFailure records a failed ESI fetch by kind
func RecordESIFailure(endpoint, kind string) {
	if !BusinessMetricsEnabled() {
		return
	}
	initializePipelineMetrics()

	esiFailuresTotal.WithLabelValues(endpoint, kind).Inc()
}

// RecordCacheLookup records a cache lookup result
func RecordCacheLookup(namespace, result string) {
	if !BusinessMetricsEnabled() {
		return
	}
	initializePipelineMetrics()

	cacheLookupsTotal.WithLabelValues(namespace, result).Inc()
}

// RecordCacheWrite records a cache write
func RecordCacheWrite(namespace, status string) {
	if !BusinessMetricsEnabled() {
		return
	}
	initializePipelineMetrics()

	cacheWritesTotal.WithLabelValues(namespace, status).Inc()
}

// RecordStoreOperation records a snapshot/lock backend operation
func RecordStoreOperation(backend, operation, status string, duration time.Duration) {
	if !BusinessMetricsEnabled() {
		return
	}
	initializePipelineMetrics()

	storeOperationsTotal.WithLabelValues(backend, operation, status).Inc()
	storeOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}
