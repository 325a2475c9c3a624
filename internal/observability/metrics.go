package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "channel_events_received_total", Help: "Pushed events received, by event name"},
		[]string{"event"},
	)
	DecodeFailures    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "channel_decode_failures_total", Help: "Pushed payloads dropped because they failed to decode"})
	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "channel_reconnect_attempts_total", Help: "Reconnection attempts made by the push channel"})
	PresenceAnnounced = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "channel_presence_announced_total", Help: "Presence announcements sent on connect"})

	AutoTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "auto_transitions_total", Help: "Auto-transition triggers fired, by action"},
		[]string{"action"},
	)
	GuardRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "guard_rejections_total", Help: "Actions rejected synchronously by a lifecycle guard"},
		[]string{"action"},
	)

	MatrixRequests  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "matrix_requests_total", Help: "Batch requests issued to the routing collaborator"})
	MatrixFallbacks = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "matrix_fallbacks_total", Help: "Rankings served from the great-circle fallback"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled by the local gateway"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "Gateway request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
