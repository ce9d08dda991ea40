// Package observability exposes Prometheus metrics for the realtime
// engine: connection lifecycle, event flow, fan-out sizes, and
// per-channel delivery outcomes.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects realtime engine metrics. All helper methods are
// nil-safe so components can run without metrics in tests.
type Metrics struct {
	// ConnectionsActive tracks currently registered live connections.
	ConnectionsActive prometheus.Gauge

	// EventsInbound counts client frames by method.
	EventsInbound *prometheus.CounterVec

	// EventsOutbound counts server events by event name.
	EventsOutbound *prometheus.CounterVec

	// BroadcastRecipients observes fan-out size per broadcast.
	BroadcastRecipients prometheus.Histogram

	// NotificationsCreated counts persisted notification rows by kind.
	NotificationsCreated *prometheus.CounterVec

	// DeliveryAttempts counts channel delivery attempts.
	// Labels: channel (live|push|email), status (success|error|skipped)
	DeliveryAttempts *prometheus.CounterVec

	// ReminderSweeps counts reminder sweep runs by status.
	ReminderSweeps *prometheus.CounterVec

	// ReminderSweepDuration observes sweep latency in seconds.
	ReminderSweepDuration prometheus.Histogram
}

// NewMetrics creates and registers all relay metrics with the default
// Prometheus registry. Call once at startup; /metrics serves the result.
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "relay_connections_active",
			Help: "Number of live websocket connections currently registered",
		}),
		EventsInbound: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_inbound_total",
			Help: "Client frames processed by method",
		}, []string{"method"}),
		EventsOutbound: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_outbound_total",
			Help: "Server events emitted by event name",
		}, []string{"event"}),
		BroadcastRecipients: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_broadcast_recipients",
			Help:    "Connections reached per room broadcast",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}),
		NotificationsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_notifications_created_total",
			Help: "Notification rows created by kind",
		}, []string{"kind"}),
		DeliveryAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_delivery_attempts_total",
			Help: "Notification delivery attempts by channel and status",
		}, []string{"channel", "status"}),
		ReminderSweeps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_reminder_sweeps_total",
			Help: "Reminder sweep runs by status",
		}, []string{"status"}),
		ReminderSweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_reminder_sweep_duration_seconds",
			Help:    "Duration of reminder sweeps in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
	}
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

func (m *Metrics) InboundEvent(method string) {
	if m == nil {
		return
	}
	m.EventsInbound.WithLabelValues(method).Inc()
}

func (m *Metrics) OutboundEvent(event string) {
	if m == nil {
		return
	}
	m.EventsOutbound.WithLabelValues(event).Inc()
}

func (m *Metrics) BroadcastReached(n int) {
	if m == nil {
		return
	}
	m.BroadcastRecipients.Observe(float64(n))
}

func (m *Metrics) NotificationCreated(kind string) {
	if m == nil {
		return
	}
	m.NotificationsCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) DeliveryAttempt(channel, status string) {
	if m == nil {
		return
	}
	m.DeliveryAttempts.WithLabelValues(channel, status).Inc()
}

func (m *Metrics) SweepCompleted(d time.Duration, failed bool) {
	if m == nil {
		return
	}
	status := "success"
	if failed {
		status = "error"
	}
	m.ReminderSweeps.WithLabelValues(status).Inc()
	m.ReminderSweepDuration.Observe(d.Seconds())
}
