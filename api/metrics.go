package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blocknative/devnode/metrics"
)

type APIMetrics struct {
	ApiReqCounter *prometheus.CounterVec
	ApiReqTiming  *prometheus.HistogramVec
	Connections   prometheus.Gauge
	Dropped       prometheus.Counter
}

func (a *API) initMetrics() {
	a.m.ApiReqCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devnode",
		Subsystem: "api",
		Name:      "reqcount",
		Help:      "Number of requests.",
	}, []string{"endpoint", "code"})

	a.m.ApiReqTiming = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "devnode",
		Subsystem: "api",
		Name:      "duration",
		Help:      "Duration of requests per endpoint",
	}, []string{"endpoint"})

	a.m.Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "devnode",
		Subsystem: "api",
		Name:      "wsConnections",
		Help:      "Number of open websocket connections.",
	})

	a.m.Dropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "devnode",
		Subsystem: "api",
		Name:      "wsDropped",
		Help:      "Notifications not delivered because the write queue was full.",
	})
}

func (a *API) AttachMetrics(m *metrics.Metrics) {
	m.Register(a.m.ApiReqCounter)
	m.Register(a.m.ApiReqTiming)
	m.Register(a.m.Connections)
	m.Register(a.m.Dropped)
}
