package metrics

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	businessMetrics atomic.Bool
	systemMetrics   atomic.Bool
)

// Configure switches metric families on or off. Recording functions are
// no-ops for disabled families.
func Configure(business, system bool) {
	businessMetrics.Store(business)
	systemMetrics.Store(system)
}

// BusinessMetricsEnabled reports whether pipeline and API metrics are recorded
func BusinessMetricsEnabled() bool {
	return businessMetrics.Load()
}

// SystemMetricsEnabled reports whether host and runtime metrics are collected
func SystemMetricsEnabled() bool {
	return systemMetrics.Load()
}

// Read API metrics
var (
	APIRequestsTotal     *prometheus.CounterVec
	APIRequestDuration   *prometheus.HistogramVec
	APIActiveConnections prometheus.Gauge
	StatusViewsTotal     *prometheus.CounterVec

	apiMetricsOnce sync.Once
)

func initializeAPIMetrics() {
	apiMetricsOnce.Do(func() {
		APIRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "esistatus_http_requests_total",
				Help: "Total number of HTTP requests to the status API",
			},
			[]string{"method", "endpoint", "status"},
		)

		APIRequestDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "esistatus_http_request_duration_seconds",
				Help:    "Duration of HTTP requests to the status API in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint", "status"},
		)

		APIActiveConnections = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "esistatus_http_active_connections",
				Help: "Number of in-flight HTTP requests to the status API",
			},
		)

		StatusViewsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "esistatus_status_views_total",
				Help: "Total number of status view renders",
			},
			[]string{"result"}, // "ok", "no_data", "error"
		)

		GetInstance().registry.MustRegister(
			APIRequestsTotal,
			APIRequestDuration,
			APIActiveConnections,
			StatusViewsTotal,
		)
	})
}

// RecordHTTPRequest records metrics for an API request
func RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if !BusinessMetricsEnabled() {
		return
	}
	initializeAPIMetrics()

	status := strconv.Itoa(statusCode)

	APIRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
}

// RecordStatusView records the result of building a status view
func RecordStatusView(result string) {
	if !BusinessMetricsEnabled() {
		return
	}
	initializeAPIMetrics()

	StatusViewsTotal.WithLabelValues(result).Inc()
}

// IncActiveConnections increments in-flight requests
func IncActiveConnections() {
	if !BusinessMetricsEnabled() {
		return
	}
	initializeAPIMetrics()

	APIActiveConnections.Inc()
}

// DecActiveConnections decrements in-flight requests
func DecActiveConnections() {
	if !BusinessMetricsEnabled() {
		return
	}
	initializeAPIMetrics()

	APIActiveConnections.Dec()
}
