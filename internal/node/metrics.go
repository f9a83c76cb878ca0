package node

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks routing outcomes and worker population.
type Metrics struct {
	routed        *prometheus.CounterVec
	routeLatency  prometheus.Histogram
	activeWorkers prometheus.Gauge
}

// Route outcome labels.
const (
	outcomeDelivered = "delivered"
	outcomeDenied    = "denied"
	outcomeUnknown   = "unknown_address"
	outcomeFull      = "mailbox_full"
)

// NewMetrics registers routing metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ockam_node_messages_routed_total",
			Help: "Messages handled by the router grouped by outcome.",
		}, []string{"outcome"}),
		routeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ockam_node_route_latency_seconds",
			Help:    "Latency of a single routing hop.",
			Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01},
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ockam_node_workers_active",
			Help: "Current number of running workers.",
		}),
	}

	reg.MustRegister(m.routed, m.routeLatency, m.activeWorkers)
	return m
}

func (m *Metrics) recordRoute(outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.routed.WithLabelValues(outcome).Inc()
	m.routeLatency.Observe(dur.Seconds())
}

func (m *Metrics) incWorkers() {
	if m == nil {
		return
	}
	m.activeWorkers.Inc()
}

func (m *Metrics) decWorkers() {
	if m == nil {
		return
	}
	m.activeWorkers.Dec()
}
