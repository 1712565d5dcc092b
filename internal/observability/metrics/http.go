package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/openans/ansd/internal/logger"
)

// HTTPMetrics contains Prometheus metrics for the HTTP API
type HTTPMetrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestErrors   *prometheus.CounterVec
	httpResponseSize    *prometheus.HistogramVec

	authOperationsTotal *prometheus.CounterVec

	sseActiveConnections  prometheus.Gauge
	sseTotalConnections   *prometheus.CounterVec
	sseConnectionDuration prometheus.Histogram
	sseMessagesSent       *prometheus.CounterVec
	sseErrors             *prometheus.CounterVec
}

// NewHTTPMetrics creates and registers new HTTP API metrics
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *HTTPMetrics) initMetrics() {
	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ans_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"}, // path is the route template, never the raw URL
	)

	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ans_http_request_duration_seconds",
			Help:    "Time taken for HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.httpRequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ans_http_request_errors_total",
			Help: "Total number of HTTP requests answered with an ANS error",
		},
		[]string{"method", "path", "error_code"},
	)

	m.httpResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ans_http_response_size_bytes",
			Help:    "Size of HTTP responses in bytes",
			Buckets: prometheus.ExponentialBuckets(BucketStart100B, BucketFactor10, BucketCount6), // 100B to ~100MB
		},
		[]string{"method", "path"},
	)

	m.authOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ans_http_auth_operations_total",
			Help: "Total number of bearer token checks",
		},
		[]string{"status"}, // status: success, missing, invalid
	)

	m.sseActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ans_http_sse_active_connections",
			Help: "Current number of active SSE connections",
		},
	)

	m.sseTotalConnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ans_http_sse_connections_total",
			Help: "Total number of SSE connections by lifecycle status",
		},
		[]string{"status"}, // status: established, closed, canceled, died, error
	)

	m.sseConnectionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ans_http_sse_connection_duration_seconds",
			Help:    "Duration of SSE connections in seconds",
			Buckets: prometheus.ExponentialBuckets(BucketStart1s, BucketFactor2, BucketCount15), // 1s to ~9 hours
		},
	)

	m.sseMessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ans_http_sse_messages_sent_total",
			Help: "Total number of SSE messages sent",
		},
		[]string{"event"}, // event: connected, consume, cancel, dnd, heartbeat
	)

	m.sseErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ans_http_sse_errors_total",
			Help: "Total number of SSE errors",
		},
		[]string{"error_type"}, // error_type: send_failed, encode_failed
	)
}

func (m *HTTPMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpRequestErrors,
		m.httpResponseSize,
		m.authOperationsTotal,
		m.sseActiveConnections,
		m.sseTotalConnections,
		m.sseConnectionDuration,
		m.sseMessagesSent,
		m.sseErrors,
	}
}

// Describe implements the Collector interface
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.getCollectors() {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.getCollectors() {
		collector.Collect(ch)
	}
}

// RecordHTTPRequest records a served request
func (m *HTTPMetrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, sizeBytes int64) {
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	if sizeBytes > 0 {
		m.httpResponseSize.WithLabelValues(method, path).Observe(float64(sizeBytes))
	}
}

// RecordHTTPRequestError records a request answered with an ANS error code
func (m *HTTPMetrics) RecordHTTPRequestError(method, path string, code int64) {
	m.httpRequestErrors.WithLabelValues(method, path, strconv.FormatInt(code, 10)).Inc()
}

// Auth status label values
const (
	AuthStatusSuccess = "success"
	AuthStatusMissing = "missing"
	AuthStatusInvalid = "invalid"
)

// RecordAuth records one bearer token check
func (m *HTTPMetrics) RecordAuth(status string) {
	m.authOperationsTotal.WithLabelValues(status).Inc()
}

// SSE connection close reason constants to prevent high cardinality metrics
const (
	SSECloseReasonClosed   = "closed"   // Normal client disconnect
	SSECloseReasonCanceled = "canceled" // Server shutting down
	SSECloseReasonDied     = "died"     // Subscriber dropped for backlog overflow
	SSECloseReasonError    = "error"    // Error occurred
)

// SSEConnectionStarted increments active connections and total connections counter
func (m *HTTPMetrics) SSEConnectionStarted() {
	m.sseActiveConnections.Inc()
	m.sseTotalConnections.WithLabelValues("established").Inc()
}

// SSEConnectionClosed decrements active connections and records duration.
// Unknown reasons are recorded as "error".
func (m *HTTPMetrics) SSEConnectionClosed(duration time.Duration, reason string) {
	switch reason {
	case SSECloseReasonClosed, SSECloseReasonCanceled, SSECloseReasonDied, SSECloseReasonError:
	default:
		reason = SSECloseReasonError
	}

	m.sseActiveConnections.Dec()
	m.sseTotalConnections.WithLabelValues(reason).Inc()
	m.sseConnectionDuration.Observe(duration.Seconds())
}

// RecordSSEMessageSent records an SSE message sent
func (m *HTTPMetrics) RecordSSEMessageSent(event string) {
	m.sseMessagesSent.WithLabelValues(event).Inc()
}

// RecordSSEError records an SSE error
func (m *HTTPMetrics) RecordSSEError(errorType string) {
	m.sseErrors.WithLabelValues(errorType).Inc()
}

// GetActiveSSEConnections returns the current number of active SSE connections
func (m *HTTPMetrics) GetActiveSSEConnections() float64 {
	metric := &dto.Metric{}
	if err := m.sseActiveConnections.Write(metric); err != nil {
		log.Warn("Failed to write SSE active connections metric", logger.Error(err))
		return 0
	}
	if metric.Gauge != nil && metric.Gauge.Value != nil {
		return *metric.Gauge.Value
	}
	return 0
}
