package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecordOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)

	m.ObserveClick(ClickCounted)
	m.ObserveClick(ClickDeduplicated)
	m.ObserveClick(ClickDeduplicated)
	m.ObserveRelease(2, 150.5)
	m.ObserveRelease(0, 99)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.clicks.WithLabelValues(ClickCounted)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.clicks.WithLabelValues(ClickDeduplicated)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.released))
	assert.Equal(t, 150.5, testutil.ToFloat64(m.releasedAmount))
}

func TestMetricsReuseRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNewMetrics(reg)
	second := MustNewMetrics(reg)

	first.ObserveCommission(CommissionCredited)
	second.ObserveCommission(CommissionCredited)

	assert.Equal(t, 2.0, testutil.ToFloat64(first.commissions.WithLabelValues(CommissionCredited)))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveClick(ClickFailed)
		m.ObserveResolution("not found")
		m.ObserveCommission(CommissionFailed)
		m.ObserveRelease(1, 1)
	})
}
