package node

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics is the node's private prometheus surface, exported by the HTTP
// layer under /metrics.
type metrics struct {
	registry *prometheus.Registry

	packetsReceived *prometheus.CounterVec
	packetsSent     prometheus.Counter
	forwarded       prometheus.Counter
	rejects         *prometheus.CounterVec
	rateLimited     prometheus.Counter
	settlements     prometheus.Counter
}

func newMetrics(pending *pendingTable) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		packetsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentmesh",
			Name:      "packets_received_total",
			Help:      "Inbound prepares by response outcome.",
		}, []string{"outcome"}),
		packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentmesh",
			Name:      "packets_sent_total",
			Help:      "Outbound prepares written to peer links.",
		}),
		forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentmesh",
			Name:      "packets_forwarded_total",
			Help:      "Events relayed onward to another destination.",
		}),
		rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentmesh",
			Name:      "rejects_total",
			Help:      "Reject packets returned to peers by wire code.",
		}, []string{"code"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentmesh",
			Name:      "rate_limited_total",
			Help:      "Inbound prepares refused by the per-peer limiter.",
		}),
		settlements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentmesh",
			Name:      "settlements_total",
			Help:      "Settlement rounds completed.",
		}),
	}
	m.registry.MustRegister(
		m.packetsReceived, m.packetsSent, m.forwarded,
		m.rejects, m.rateLimited, m.settlements,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "agentmesh",
			Name:      "pending_packets",
			Help:      "Outbound prepares awaiting a response.",
		}, func() float64 { return float64(pending.Len()) }),
	)
	return m
}
