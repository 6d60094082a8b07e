package chain

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blocknative/devnode/metrics"
)

type SnapshotMetrics struct {
	Live           prometheus.Gauge
	BlocksReverted prometheus.Counter
}

func (sm *SnapshotManager) initMetrics() {
	sm.m.Live = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "devnode",
		Subsystem: "chain",
		Name:      "snapshots",
		Help:      "Live height snapshots.",
	})

	sm.m.BlocksReverted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "devnode",
		Subsystem: "chain",
		Name:      "blocksReverted",
		Help:      "Blocks dropped by reverts and rollbacks.",
	})
}

func (sm *SnapshotManager) AttachMetrics(m *metrics.Metrics) {
	m.Register(sm.m.Live)
	m.Register(sm.m.BlocksReverted)
}
