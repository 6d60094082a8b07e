package pubsub

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blocknative/devnode/metrics"
)

// Metrics are shared by the registries of every connection.
type Metrics struct {
	Active        *prometheus.GaugeVec
	Notifications *prometheus.CounterVec
	Terminated    *prometheus.CounterVec
	Discarded     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "devnode",
			Subsystem: "pubsub",
			Name:      "active",
			Help:      "Live subscriptions per kind.",
		}, []string{"kind"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devnode",
			Subsystem: "pubsub",
			Name:      "notifications",
			Help:      "Notifications delivered per kind.",
		}, []string{"kind"}),
		Terminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devnode",
			Subsystem: "pubsub",
			Name:      "terminated",
			Help:      "Subscriptions ended by a producer failure.",
		}, []string{"kind"}),
		Discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devnode",
			Subsystem: "pubsub",
			Name:      "discarded",
			Help:      "Events dropped while a subscription waited for activation.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) AttachMetrics(mm *metrics.Metrics) {
	mm.Register(m.Active)
	mm.Register(m.Notifications)
	mm.Register(m.Terminated)
	mm.Register(m.Discarded)
}
