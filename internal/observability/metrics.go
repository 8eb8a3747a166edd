package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	ClickCounted      = "counted"
	ClickDeduplicated = "deduplicated"
	ClickFailed       = "failed"

	CommissionCredited  = "credited"
	CommissionDuplicate = "duplicate"
	CommissionSkipped   = "skipped"
	CommissionFailed    = "failed"
)

// Metrics exposes Prometheus collectors for the attribution and commission pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	clicks         *prometheus.CounterVec
	resolutions    *prometheus.CounterVec
	commissions    *prometheus.CounterVec
	released       prometheus.Counter
	releasedAmount prometheus.Counter
}

// MustNewMetrics registers the collectors with reg, reusing collectors that are already
// registered under the same name.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		clicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "partnerhub",
			Subsystem: "attribution",
			Name:      "clicks_total",
			Help:      "Attributed visits by click-ledger outcome.",
		}, []string{"result"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "partnerhub",
			Subsystem: "attribution",
			Name:      "resolutions_total",
			Help:      "Attribution decisions by reason.",
		}, []string{"reason"}),
		commissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "partnerhub",
			Subsystem: "commission",
			Name:      "computations_total",
			Help:      "Commission computations by result.",
		}, []string{"result"}),
		released: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "partnerhub",
			Subsystem: "commission",
			Name:      "released_total",
			Help:      "Commissions moved from held to available.",
		}),
		releasedAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "partnerhub",
			Subsystem: "commission",
			Name:      "released_amount_total",
			Help:      "Sum of released commission amounts.",
		}),
	}

	m.clicks = register(reg, m.clicks).(*prometheus.CounterVec)
	m.resolutions = register(reg, m.resolutions).(*prometheus.CounterVec)
	m.commissions = register(reg, m.commissions).(*prometheus.CounterVec)
	m.released = register(reg, m.released).(prometheus.Counter)
	m.releasedAmount = register(reg, m.releasedAmount).(prometheus.Counter)
	return m
}

func register(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return already.ExistingCollector
		}
		panic(err)
	}
	return c
}

func (m *Metrics) ObserveClick(result string) {
	if m == nil {
		return
	}
	m.clicks.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveResolution(reason string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveCommission(result string) {
	if m == nil {
		return
	}
	m.commissions.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRelease(count int, amount float64) {
	if m == nil || count <= 0 {
		return
	}
	m.released.Add(float64(count))
	m.releasedAmount.Add(amount)
}
