package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// GraphsyncEventsTotal counts routed events by type, origin and outcome
	GraphsyncEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphsync_events_total",
			Help: "Total number of graph events routed",
		},
		[]string{"type", "origin", "outcome"},
	)

	// GraphsyncNodes tracks the number of nodes in the graph store
	GraphsyncNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "graphsync_nodes",
			Help: "Current number of nodes in the graph store",
		},
	)

	// GraphsyncEdges tracks the number of edges in the graph store
	GraphsyncEdges = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "graphsync_edges",
			Help: "Current number of edges in the graph store",
		},
	)

	// GraphsyncSendFailuresTotal counts local events that could not be sent to the peer
	GraphsyncSendFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "graphsync_send_failures_total",
			Help: "Total number of events that failed to send to the peer",
		},
	)
)

func init() {
	prometheus.MustRegister(GraphsyncEventsTotal)
	prometheus.MustRegister(GraphsyncNodes)
	prometheus.MustRegister(GraphsyncEdges)
	prometheus.MustRegister(GraphsyncSendFailuresTotal)
}
