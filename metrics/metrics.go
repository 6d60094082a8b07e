// Package metrics holds the process wide prometheus registry.
package metrics

import (
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "expvar"
)

type Metrics struct {
	registry *prometheus.Registry
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())

	return &Metrics{registry: reg}
}

// RegisterExpvar exposes expvar counters, such as the ones badger publishes,
// as prometheus metrics.
func (m *Metrics) RegisterExpvar(exports map[string]*prometheus.Desc) error {
	return m.registry.Register(collectors.NewExpvarCollector(exports))
}

func (m *Metrics) Register(cs prometheus.Collector) error {
	return m.registry.Register(cs)
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// AttachProfiler mounts the pprof handlers on sm.
func AttachProfiler(sm *http.ServeMux) {
	sm.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	sm.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	sm.HandleFunc("/debug/pprof/trace", pprof.Trace)
	sm.HandleFunc("/debug/pprof/profile", pprof.Profile)
	sm.HandleFunc("/debug/pprof/", pprof.Index)
}
