package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Message kinds used as the "kind" label.
const (
	KindTyped = "typed"
	KindRaw   = "raw"
)

var (
	// Relay metrics
	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autohome_relay_messages_received_total",
			Help: "Total number of inbound bus messages delivered locally, by kind",
		},
		[]string{"kind"},
	)

	MessagesPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autohome_relay_messages_published_total",
			Help: "Total number of outbound messages sent on the publisher socket",
		},
	)

	DecodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autohome_relay_decode_errors_total",
			Help: "Total number of inbound messages that could not be decoded, by reason",
		},
		[]string{"reason"},
	)

	PublishErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autohome_relay_publish_errors_total",
			Help: "Total number of outbound messages that failed to encode or send",
		},
	)

	RelayRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "autohome_relay_running",
			Help: "Whether the relay receive loop is running (1 = running, 0 = stopped)",
		},
	)

	RelayRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autohome_relay_restarts_total",
			Help: "Total number of supervised relay restarts",
		},
	)

	// Local event bus metrics
	BusUndelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autohome_bus_undelivered_total",
			Help: "Total number of bus events that had no matching handler",
		},
	)

	// FeedDropped counts live feed frames dropped for slow WebSocket clients.
	FeedDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autohome_feed_dropped_total",
			Help: "Total number of live feed frames dropped by message kind",
		},
		[]string{"kind"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autohome_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(MessagesReceived)
	prometheus.MustRegister(MessagesPublished)
	prometheus.MustRegister(DecodeErrors)
	prometheus.MustRegister(PublishErrors)
	prometheus.MustRegister(RelayRunning)
	prometheus.MustRegister(RelayRestarts)
	prometheus.MustRegister(BusUndelivered)
	prometheus.MustRegister(FeedDropped)
	prometheus.MustRegister(APIRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
