package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// GraphsyncRelayPeers tracks connected websocket peers
	GraphsyncRelayPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "graphsync_relay_peers",
			Help: "Current number of connected peers",
		},
	)

	// GraphsyncRelayMessagesTotal counts relayed messages by source and outcome
	GraphsyncRelayMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphsync_relay_messages_total",
			Help: "Total number of messages handled by the relay",
		},
		[]string{"source", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(GraphsyncRelayPeers)
	prometheus.MustRegister(GraphsyncRelayMessagesTotal)
}
