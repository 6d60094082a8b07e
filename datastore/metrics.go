package datastore

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blocknative/devnode/metrics"
)

func InitDatastoreMetrics(m *metrics.Metrics) error {
	return m.RegisterExpvar(map[string]*prometheus.Desc{
		"badger_v2_disk_reads_total":     prometheus.NewDesc("badger_disk_reads_total", "Disk Reads", nil, nil),
		"badger_v2_disk_writes_total":    prometheus.NewDesc("badger_disk_writes_total", "Disk Writes", nil, nil),
		"badger_v2_gets_total":           prometheus.NewDesc("badger_gets_total", "Gets", nil, nil),
		"badger_v2_puts_total":           prometheus.NewDesc("badger_puts_total", "Puts", nil, nil),
		"badger_v2_lsm_size_bytes":       prometheus.NewDesc("badger_lsm_size_bytes", "LSM Size in bytes", []string{"database"}, nil),
		"badger_v2_vlog_size_bytes":      prometheus.NewDesc("badger_vlog_size_bytes", "Value Log Size in bytes", []string{"database"}, nil),
		"badger_v2_pending_writes_total": prometheus.NewDesc("badger_pending_writes_total", "Pending Writes", []string{"database"}, nil),
	})
}

type ChainMetrics struct {
	Height    prometheus.Gauge
	CacheHits *prometheus.CounterVec
}

func (c *Chain) initMetrics() {
	c.m.Height = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "devnode",
		Subsystem: "datastore",
		Name:      "height",
		Help:      "Height of the stored chain head.",
	})

	c.m.CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devnode",
		Subsystem: "datastore",
		Name:      "headerCache",
		Help:      "Header cache lookups by result.",
	}, []string{"result"})
}

func (c *Chain) AttachMetrics(m *metrics.Metrics) {
	m.Register(c.m.Height)
	m.Register(c.m.CacheHits)
}
