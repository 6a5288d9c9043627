package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilCollectorsAreNoops(t *testing.T) {
	var e *EscrowMetrics
	var c *ChainMetrics
	assert.NotPanics(t, func() {
		e.ObserveTransition("deposit")
		e.ObserveRejection("deposit", "state")
		e.ObserveReentryBlocked()
		e.SetValueLocked(1)
		c.SetHeight(1)
		c.ObserveTx("ok")
	})
}

func TestEscrowCollectors(t *testing.T) {
	m := Escrow()
	assert.Same(t, m, Escrow())

	before := testutil.ToFloat64(m.rejections.WithLabelValues("cancel", "unknown"))
	m.ObserveRejection("cancel", "")
	assert.Equal(t, before+1, testutil.ToFloat64(m.rejections.WithLabelValues("cancel", "unknown")))

	blocked := testutil.ToFloat64(m.reentryBlocked)
	m.ObserveReentryBlocked()
	assert.Equal(t, blocked+1, testutil.ToFloat64(m.reentryBlocked))

	m.SetValueLocked(500)
	assert.Equal(t, float64(500), testutil.ToFloat64(m.valueLocked))
}

func TestChainCollectors(t *testing.T) {
	m := Chain()
	m.SetHeight(9)
	assert.Equal(t, float64(9), testutil.ToFloat64(m.height))
	before := testutil.ToFloat64(m.txs.WithLabelValues("invalid"))
	m.ObserveTx("invalid")
	assert.Equal(t, before+1, testutil.ToFloat64(m.txs.WithLabelValues("invalid")))
}
