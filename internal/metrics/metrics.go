// Package metrics registers the chat core's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	MessagesCreated       *prometheus.CounterVec
	RealtimeEvents        *prometheus.CounterVec
	NotificationsFailed   prometheus.Counter
	CacheInvalidationFail prometheus.Counter
	RealtimeConnections   prometheus.Gauge
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in
// tests to keep them isolated.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_created_total",
			Help: "Messages stored, by message type.",
		}, []string{"type"}),
		RealtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_realtime_events_total",
			Help: "Realtime events fanned out, by event type.",
		}, []string{"event"}),
		NotificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_notifications_failed_total",
			Help: "Notification hand-offs that returned an error.",
		}),
		CacheInvalidationFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_cache_invalidation_failures_total",
			Help: "Cache invalidations that failed and were skipped.",
		}),
		RealtimeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_realtime_connections",
			Help: "Currently registered realtime connections.",
		}),
	}
	reg.MustRegister(
		m.MessagesCreated,
		m.RealtimeEvents,
		m.NotificationsFailed,
		m.CacheInvalidationFail,
		m.RealtimeConnections,
	)
	return m
}
