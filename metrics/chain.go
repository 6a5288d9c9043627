package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ChainMetrics tracks block production.
type ChainMetrics struct {
	height prometheus.Gauge
	txs    *prometheus.CounterVec
}

var (
	chainOnce     sync.Once
	chainRegistry *ChainMetrics
)

// Chain returns the process-wide block production collectors.
func Chain() *ChainMetrics {
	chainOnce.Do(func() {
		chainRegistry = &ChainMetrics{
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "chain_block_height",
				Help: "Height of the latest committed block.",
			}),
			txs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "chain_txs_total",
				Help: "Transactions processed by receipt status (ok, failed, invalid).",
			}, []string{"status"}),
		}
		prometheus.MustRegister(chainRegistry.height, chainRegistry.txs)
	})
	return chainRegistry
}

func (m *ChainMetrics) SetHeight(h int64) {
	if m == nil {
		return
	}
	m.height.Set(float64(h))
}

func (m *ChainMetrics) ObserveTx(status string) {
	if m == nil {
		return
	}
	m.txs.WithLabelValues(status).Inc()
}
