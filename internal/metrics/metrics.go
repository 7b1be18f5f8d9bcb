// Package metrics provides Prometheus instrumentation for the resident chat
// service. It exposes gauges for connection and room counts, counters for
// message and typing throughput, and histograms for latency tracking.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "resident_chat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// MessagesTotal counts the total number of messages processed, labeled by
	// type: "sent", "delivered", or "rejected".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "resident_chat_messages_total",
		Help: "Total number of messages processed",
	}, []string{"type"}) // type = "sent", "delivered", "rejected"

	// TypingSignalsTotal counts typing indicator transitions relayed, labeled
	// by direction: "started" or "stopped".
	TypingSignalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "resident_chat_typing_signals_total",
		Help: "Total number of typing indicator transitions relayed",
	}, []string{"direction"}) // direction = "started", "stopped"

	// MessageLatency records message persist-and-fanout latency in seconds.
	MessageLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "resident_chat_message_latency_seconds",
		Help:    "Message persist and fanout latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// HistoryFetchLatency records history page load latency in seconds.
	HistoryFetchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "resident_chat_history_fetch_latency_seconds",
		Help:    "History page fetch latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// ActiveRooms tracks the number of rooms with at least one viewer on this
	// server instance.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "resident_chat_active_rooms",
		Help: "Current number of rooms with at least one connected viewer",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MessagesTotal,
		TypingSignalsTotal,
		MessageLatency,
		HistoryFetchLatency,
		ActiveRooms,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
