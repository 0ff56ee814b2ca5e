package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_received_total", Help: "Ticker frames decoded from the upstream feed"},
		[]string{"symbol"},
	)
	TicksRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_rejected_total", Help: "Ticks dropped as stale by the price store"},
		[]string{"symbol"},
	)
	FramesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "frames_dropped_total", Help: "Upstream frames dropped before decoding a tick"},
		[]string{"reason"},
	)
	Reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "upstream_reconnects_total", Help: "Scheduled upstream reconnect attempts"},
	)
	StoreFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "store_fallback_total", Help: "Store operations served by the in-memory fallback"},
		[]string{"op"},
	)
	Subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "hub_subscribers", Help: "Currently attached subscribers"},
	)
	JournalErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "journal_errors_total", Help: "Failed tick journal writes"},
	)
)

func init() {
	prometheus.MustRegister(TicksReceived, TicksRejected, FramesDropped, Reconnects, StoreFallbacks, Subscribers, JournalErrors)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
