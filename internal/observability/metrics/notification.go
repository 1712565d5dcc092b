package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openans/ansd/internal/notification"
)

// NotificationMetrics contains the Prometheus metrics of the notification
// service. It implements notification.MetricsRecorder.
type NotificationMetrics struct {
	AdmissionsTotal     *prometheus.CounterVec // Publish decisions by outcome (admitted, dropped, rejected)
	RemovalsTotal       *prometheus.CounterVec // Removed notifications by reason
	SubscribersDied     prometheus.Counter     // Subscribers removed for backlog overflow
	ActiveNotifications prometheus.Gauge
	Subscribers         prometheus.Gauge

	registry *prometheus.Registry
}

var _ notification.MetricsRecorder = (*NotificationMetrics)(nil)

// NewNotificationMetrics creates a new instance of NotificationMetrics.
// It requires a Prometheus registry to register the metrics.
// It returns an error if metric registration fails.
func NewNotificationMetrics(registry *prometheus.Registry) (*NotificationMetrics, error) {
	m := &NotificationMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register notification metrics: %w", err)
	}
	return m, nil
}

func (m *NotificationMetrics) initMetrics() {
	m.AdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ans_publish_admissions_total",
			Help: "Publish requests seen by the admission gate, by outcome",
		},
		[]string{"outcome"},
	)

	m.RemovalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ans_notification_removals_total",
			Help: "Active notifications removed, by remove reason",
		},
		[]string{"reason"},
	)

	m.SubscribersDied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ans_subscribers_died_total",
		Help: "Subscribers dropped because their pending backlog overflowed",
	})

	m.ActiveNotifications = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ans_active_notifications",
		Help: "Current number of active notifications",
	})

	m.Subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ans_subscribers",
		Help: "Current number of connected subscribers",
	})
}

// RecordAdmission counts one admission decision.
func (m *NotificationMetrics) RecordAdmission(outcome string) {
	m.AdmissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordRemoval counts one removed notification.
func (m *NotificationMetrics) RecordRemoval(reason notification.RemoveReason) {
	m.RemovalsTotal.WithLabelValues(reason.String()).Inc()
}

// RecordSubscriberDied counts a subscriber dropped for overflow.
func (m *NotificationMetrics) RecordSubscriberDied() {
	m.SubscribersDied.Inc()
}

// SetActiveNotifications sets the active notification gauge.
func (m *NotificationMetrics) SetActiveNotifications(count int) {
	m.ActiveNotifications.Set(float64(count))
}

// SetSubscribers sets the subscriber gauge.
func (m *NotificationMetrics) SetSubscribers(count int) {
	m.Subscribers.Set(float64(count))
}

func (m *NotificationMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.AdmissionsTotal,
		m.RemovalsTotal,
		m.SubscribersDied,
		m.ActiveNotifications,
		m.Subscribers,
	}
}

// Describe implements the prometheus.Collector interface.
func (m *NotificationMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.getCollectors() {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *NotificationMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.getCollectors() {
		c.Collect(ch)
	}
}
