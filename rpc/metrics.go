package rpc

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blocknative/devnode/metrics"
)

type DispatcherMetrics struct {
	CallCounter  *prometheus.CounterVec
	Timing       *prometheus.HistogramVec
	BatchSize    prometheus.Histogram
	DecodeErrors prometheus.Counter
}

func (d *Dispatcher) initMetrics() {
	d.m.CallCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devnode",
		Subsystem: "rpc",
		Name:      "calls",
		Help:      "Number of calls dispatched per method, type and outcome.",
	}, []string{"method", "type", "outcome"})

	d.m.Timing = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "devnode",
		Subsystem: "rpc",
		Name:      "timing",
		Help:      "Duration of method execution.",
	}, []string{"method"})

	d.m.BatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "devnode",
		Subsystem: "rpc",
		Name:      "batchSize",
		Help:      "Number of calls per batch request.",
		Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 500},
	})

	d.m.DecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "devnode",
		Subsystem: "rpc",
		Name:      "decodeErrors",
		Help:      "Requests rejected before dispatch.",
	})
}

func (d *Dispatcher) AttachMetrics(m *metrics.Metrics) {
	m.Register(d.m.CallCounter)
	m.Register(d.m.Timing)
	m.Register(d.m.BatchSize)
	m.Register(d.m.DecodeErrors)
}
