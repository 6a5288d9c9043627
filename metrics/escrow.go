// Package metrics holds the Prometheus collectors exported by the node.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics counts escrow state-machine activity.
type EscrowMetrics struct {
	transitions    *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	reentryBlocked prometheus.Counter
	valueLocked    prometheus.Gauge
}

var (
	escrowOnce     sync.Once
	escrowRegistry *EscrowMetrics
)

// Escrow returns the process-wide escrow collectors, registering them with
// the default Prometheus registry on first use.
func Escrow() *EscrowMetrics {
	escrowOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_transitions_total",
				Help: "Successful escrow entry-point calls by operation.",
			}, []string{"op"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_rejections_total",
				Help: "Rejected escrow entry-point calls by operation and error kind.",
			}, []string{"op", "kind"}),
			reentryBlocked: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "escrow_reentry_blocked_total",
				Help: "Nested entry-point calls refused by the reentrancy guard.",
			}),
			valueLocked: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "escrow_value_locked",
				Help: "Committed balance held by the escrow vault.",
			}),
		}
		prometheus.MustRegister(
			escrowRegistry.transitions,
			escrowRegistry.rejections,
			escrowRegistry.reentryBlocked,
			escrowRegistry.valueLocked,
		)
	})
	return escrowRegistry
}

func (m *EscrowMetrics) ObserveTransition(op string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(op).Inc()
}

func (m *EscrowMetrics) ObserveRejection(op, kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.rejections.WithLabelValues(op, kind).Inc()
}

func (m *EscrowMetrics) ObserveReentryBlocked() {
	if m == nil {
		return
	}
	m.reentryBlocked.Inc()
}

// SetValueLocked records the vault balance as of the latest committed block.
func (m *EscrowMetrics) SetValueLocked(v uint64) {
	if m == nil {
		return
	}
	m.valueLocked.Set(float64(v))
}
