package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mdstream"

var (
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_received_total",
		Help:      "Raw frames received from a venue websocket",
	}, []string{"venue"})

	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decode_errors_total",
		Help:      "Frames or records dropped because they could not be decoded",
	}, []string{"venue"})

	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnects_total",
		Help:      "Reconnect attempts scheduled after an unexpected close",
	}, []string{"venue"})

	UpstreamSubscribes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_subscribes_total",
		Help:      "Venue channels subscribed upstream",
	}, []string{"venue"})

	UpstreamUnsubscribes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_unsubscribes_total",
		Help:      "Venue channels unsubscribed upstream",
	}, []string{"venue"})

	Published = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "published_total",
		Help:      "Normalized events published on the bus",
	}, []string{"venue"})

	ConnState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connection_state",
		Help:      "Current wire client state (0 disconnected .. 5 terminal)",
	}, []string{"venue"})

	BusDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_dropped_total",
		Help:      "Bus messages dropped because a subscriber buffer was full",
	}, []string{"topic"})

	BridgeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bridge_errors_total",
		Help:      "Failed forwards to an external bridge",
	}, []string{"bridge"})
)

// Handler 暴露 /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
