package routing

import "github.com/prometheus/client_golang/prometheus"

type routingMetrics struct {
	resources prometheus.Gauge
	snapshots *prometheus.CounterVec
}

func newRoutingMetrics(reg prometheus.Registerer) *routingMetrics {
	m := &routingMetrics{
		resources: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "routing_keeper",
			Subsystem: "routing",
			Name:      "resources",
			Help:      "Resources in the published routing table.",
		}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routing_keeper",
			Subsystem: "routing",
			Name:      "snapshots_total",
			Help:      "External view snapshots handled, by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.resources, m.snapshots)
	}
	return m
}
