// Package metrics provides Prometheus instrumentation for the event gateway:
// a gauge for live connections, counters for dispatched and rejected events,
// and a histogram for dispatch latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsGauge tracks the current number of active WebSocket connections.
	ConnectionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_connections",
		Help: "Current number of active WebSocket connections",
	})

	// EventsTotal counts inbound events by outcome: "dispatched" or "rejected".
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_events_total",
		Help: "Total number of inbound events processed",
	}, []string{"result"})

	// RejectionsTotal counts rejected events by rejection reason
	// (moderation, unauthenticated, forbidden, rate_limited, unknown_event,
	// handler_error, dependency_failure).
	RejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_rejections_total",
		Help: "Total number of rejected events by reason",
	}, []string{"reason"})

	// DispatchLatency records end-to-end middleware chain + handler latency.
	DispatchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_dispatch_latency_seconds",
		Help:    "Event dispatch latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// ForcedDisconnectsTotal counts administrative forced disconnects.
	ForcedDisconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_forced_disconnects_total",
		Help: "Total number of administratively forced disconnects",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsGauge,
		EventsTotal,
		RejectionsTotal,
		DispatchLatency,
		ForcedDisconnectsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
