package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session Metrics
var (
	// ActiveSessions tracks currently connected WebSocket clients
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tickfeed_active_sessions",
			Help: "Number of currently connected WebSocket sessions",
		},
	)

	SessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickfeed_sessions_total",
			Help: "Total WebSocket sessions accepted",
		},
	)

	// HandshakeFailures counts upgrade attempts that never became sessions
	HandshakeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickfeed_handshake_failures_total",
			Help: "Total failed WebSocket handshakes",
		},
	)

	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tickfeed_session_duration_seconds",
			Help:    "Lifetime of WebSocket sessions in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
	)
)

// Traffic Metrics
var (
	TicksSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickfeed_ticks_sent_total",
			Help: "Total market data ticks written to clients",
		},
	)

	ClientMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickfeed_client_messages_total",
			Help: "Total messages received from clients",
		},
	)

	// FeedErrors counts send cycles skipped because the feed source failed
	FeedErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickfeed_feed_errors_total",
			Help: "Total send cycles skipped due to feed source errors",
		},
	)

	// FeedFallbacks counts cached lookups served by the static fallback
	FeedFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickfeed_feed_fallbacks_total",
			Help: "Cached feed lookups answered by the fallback source, by reason",
		},
		[]string{"reason"},
	)
)
