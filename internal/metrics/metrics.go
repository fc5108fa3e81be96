// ABOUTME: Prometheus metrics for the realtime gateway and REST surface
// ABOUTME: Registered via promauto; exposed on the configured metrics path

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Realtime metrics
	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_rooms_active",
			Help: "Rooms with at least one live session",
		},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_sessions_active",
			Help: "Live websocket sessions across all rooms",
		},
	)

	EnvelopesBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_envelopes_broadcast_total",
			Help: "Envelopes fanned out to rooms",
		},
		[]string{"kind"},
	)

	EnvelopesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_envelopes_dropped_total",
			Help: "Envelopes dropped for slow sessions",
		},
	)

	GatewayRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_gateway_rejections_total",
			Help: "Connection attempts refused by the gateway",
		},
		[]string{"code"},
	)

	// Business metrics
	MessagesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_posted_total",
			Help: "Messages persisted and broadcast",
		},
		[]string{"kind"}, // "direct" or "group"
	)

	PushNotificationsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_push_notifications_published_total",
			Help: "Offline-push events handed to the notifier",
		},
	)
)
