// Package metrics holds the Prometheus collectors for the alert feed.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "city_alerts"

type Metrics struct {
	AlertsCreated           *prometheus.CounterVec
	StatusChanges           *prometheus.CounterVec
	SnapshotsPublished      prometheus.Counter
	SnapshotFailures        prometheus.Counter
	EventsDropped           prometheus.Counter
	NotificationsShown      *prometheus.CounterVec
	NotificationsFailed     prometheus.Counter
	NotificationsSuppressed *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AlertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_created_total",
			Help:      "Alerts appended to the store.",
		}, []string{"type", "severity"}),
		StatusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_status_changes_total",
			Help:      "Alert status transitions applied.",
		}, []string{"status"}),
		SnapshotsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_published_total",
			Help:      "Full snapshots broadcast to subscribers.",
		}),
		SnapshotFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_failures_total",
			Help:      "Snapshot reads that failed against the store.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_events_dropped_total",
			Help:      "Lifecycle events not exported because the queue was full.",
		}),
		NotificationsShown: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_shown_total",
			Help:      "Notifications handed to a sink.",
		}, []string{"severity"}),
		NotificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      "Notifications that a sink failed to show.",
		}),
		NotificationsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_suppressed_total",
			Help:      "Deliveries that did not produce a notification.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.AlertsCreated,
		m.StatusChanges,
		m.SnapshotsPublished,
		m.SnapshotFailures,
		m.EventsDropped,
		m.NotificationsShown,
		m.NotificationsFailed,
		m.NotificationsSuppressed,
	)
	return m
}

// RegisterSubscriberGauge exposes the live subscriber count reported by fn.
func RegisterSubscriberGauge(reg prometheus.Registerer, fn func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_subscribers",
		Help:      "Subscriptions currently receiving snapshots.",
	}, func() float64 { return float64(fn()) }))
}

func (m *Metrics) AlertCreated(alertType, severity string) {
	if m == nil {
		return
	}
	m.AlertsCreated.WithLabelValues(alertType, severity).Inc()
}

func (m *Metrics) StatusChanged(status string) {
	if m == nil {
		return
	}
	m.StatusChanges.WithLabelValues(status).Inc()
}

func (m *Metrics) SnapshotPublished() {
	if m == nil {
		return
	}
	m.SnapshotsPublished.Inc()
}

func (m *Metrics) SnapshotFailed() {
	if m == nil {
		return
	}
	m.SnapshotFailures.Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

func (m *Metrics) NotificationShown(severity string) {
	if m == nil {
		return
	}
	m.NotificationsShown.WithLabelValues(severity).Inc()
}

func (m *Metrics) NotificationFailed() {
	if m == nil {
		return
	}
	m.NotificationsFailed.Inc()
}

func (m *Metrics) NotificationSuppressed(reason string) {
	if m == nil {
		return
	}
	m.NotificationsSuppressed.WithLabelValues(reason).Inc()
}
