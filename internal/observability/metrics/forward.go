package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ForwardMetrics contains Prometheus metrics for outbound forwarders
// (MQTT, webhook, shoutrrr). It implements forward.Metrics.
type ForwardMetrics struct {
	// Delivery metrics
	DeliveriesTotal  *prometheus.CounterVec   // Total deliveries by provider, event kind, status
	DeliveryDuration *prometheus.HistogramVec // Latency by provider and event kind
	DeliveryErrors   *prometheus.CounterVec   // Errors by provider, event kind, error_category
	Timeouts         *prometheus.CounterVec

	// Provider health metrics
	HealthStatus        *prometheus.GaugeVec // 1=healthy, 0=unhealthy
	CircuitBreakerState *prometheus.GaugeVec // 0=closed, 1=half-open, 2=open
	ConsecutiveFailures *prometheus.GaugeVec
	LastSuccessTime     *prometheus.GaugeVec

	// Retry metrics
	RetryAttempts  *prometheus.CounterVec
	RetrySuccesses *prometheus.CounterVec

	QueueDepth *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewForwardMetrics creates and registers forwarder metrics.
func NewForwardMetrics(registry *prometheus.Registry) (*ForwardMetrics, error) {
	m := &ForwardMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register forward metrics: %w", err)
	}
	return m, nil
}

func (m *ForwardMetrics) initMetrics() {
	m.DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ans_forward_deliveries_total",
			Help: "Total number of forward attempts by provider, event kind, and status",
		},
		[]string{"provider", "kind", "status"}, // status: success, error, dropped
	)

	m.DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ans_forward_delivery_duration_seconds",
			Help:    "Time taken to forward an event, including retries",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0}, // 10ms to 30s
		},
		[]string{"provider", "kind"},
	)

	m.DeliveryErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ans_forward_delivery_errors_total",
			Help: "Total number of forward errors by provider, event kind, and error category",
		},
		[]string{"provider", "kind", "error_category"},
	)

	m.Timeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ans_forward_timeouts_total",
			Help: "Total number of timed out forward attempts by provider",
		},
		[]string{"provider"},
	)

	m.HealthStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ans_forward_provider_health_status",
			Help: "Current health status of a forward provider (1=healthy, 0=unhealthy)",
		},
		[]string{"provider"},
	)

	m.CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ans_forward_circuit_breaker_state",
			Help: "Circuit breaker state of a forward provider (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)

	m.ConsecutiveFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ans_forward_consecutive_failures",
			Help: "Number of consecutive failures of a forward provider",
		},
		[]string{"provider"},
	)

	m.LastSuccessTime = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ans_forward_last_success_timestamp_seconds",
			Help: "Timestamp of the last successful forward by provider",
		},
		[]string{"provider"},
	)

	m.RetryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ans_forward_retry_attempts_total",
			Help: "Total number of retry attempts by provider",
		},
		[]string{"provider"},
	)

	m.RetrySuccesses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ans_forward_retry_successes_total",
			Help: "Total number of deliveries that succeeded after a retry",
		},
		[]string{"provider"},
	)

	m.QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ans_forward_queue_depth",
			Help: "Events waiting in a provider queue",
		},
		[]string{"provider"},
	)
}

// RecordDelivery records a finished forward attempt.
func (m *ForwardMetrics) RecordDelivery(provider, kind, status string, duration time.Duration) {
	m.DeliveriesTotal.WithLabelValues(provider, kind, status).Inc()
	if status == StatusDropped {
		return
	}
	m.DeliveryDuration.WithLabelValues(provider, kind).Observe(duration.Seconds())

	if status == StatusSuccess {
		m.LastSuccessTime.WithLabelValues(provider).SetToCurrentTime()
		m.ConsecutiveFailures.WithLabelValues(provider).Set(0)
	}
}

// RecordDeliveryError records a forward error.
func (m *ForwardMetrics) RecordDeliveryError(provider, kind, errorCategory string) {
	m.DeliveryErrors.WithLabelValues(provider, kind, errorCategory).Inc()
}

// RecordTimeout records a provider timeout.
func (m *ForwardMetrics) RecordTimeout(provider string) {
	m.Timeouts.WithLabelValues(provider).Inc()
}

// RecordRetryAttempt records a retry attempt.
func (m *ForwardMetrics) RecordRetryAttempt(provider string) {
	m.RetryAttempts.WithLabelValues(provider).Inc()
}

// RecordRetrySuccess records a successful retry.
func (m *ForwardMetrics) RecordRetrySuccess(provider string) {
	m.RetrySuccesses.WithLabelValues(provider).Inc()
}

// UpdateHealthStatus updates the health status of a provider.
func (m *ForwardMetrics) UpdateHealthStatus(provider string, healthy bool) {
	if healthy {
		m.HealthStatus.WithLabelValues(provider).Set(1)
	} else {
		m.HealthStatus.WithLabelValues(provider).Set(0)
	}
}

// UpdateCircuitBreakerState updates the circuit breaker state.
// state: 0=closed, 1=half-open, 2=open
func (m *ForwardMetrics) UpdateCircuitBreakerState(provider string, state int) {
	m.CircuitBreakerState.WithLabelValues(provider).Set(float64(state))
}

// IncrementConsecutiveFailures increments the consecutive failure count.
func (m *ForwardMetrics) IncrementConsecutiveFailures(provider string) {
	m.ConsecutiveFailures.WithLabelValues(provider).Inc()
}

// SetQueueDepth sets the queue depth of a provider.
func (m *ForwardMetrics) SetQueueDepth(provider string, depth int) {
	m.QueueDepth.WithLabelValues(provider).Set(float64(depth))
}

func (m *ForwardMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.DeliveriesTotal,
		m.DeliveryDuration,
		m.DeliveryErrors,
		m.Timeouts,
		m.HealthStatus,
		m.CircuitBreakerState,
		m.ConsecutiveFailures,
		m.LastSuccessTime,
		m.RetryAttempts,
		m.RetrySuccesses,
		m.QueueDepth,
	}
}

// Describe implements the prometheus.Collector interface.
func (m *ForwardMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.getCollectors() {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *ForwardMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.getCollectors() {
		c.Collect(ch)
	}
}
