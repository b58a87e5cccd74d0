package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	TicksTotal         *prometheus.CounterVec
	OrdersEvaluated    prometheus.Counter
	TradesSettled      *prometheus.CounterVec
	SettlementFailures *prometheus.CounterVec
	TickDuration       prometheus.Histogram
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_ticks_total",
				Help: "Total matching sweeps.",
			},
			[]string{"status"},
		),
		OrdersEvaluated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "engine_orders_evaluated_total",
				Help: "Total active orders evaluated against a price.",
			},
		),
		TradesSettled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_trades_settled_total",
				Help: "Total trades settled.",
			},
			[]string{"side"},
		),
		SettlementFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_settlement_failures_total",
				Help: "Total settlement attempts that did not commit.",
			},
			[]string{"reason"},
		),
		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "engine_tick_duration_seconds",
				Help:    "Matching sweep duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	registry.MustRegister(m.TicksTotal, m.OrdersEvaluated, m.TradesSettled, m.SettlementFailures, m.TickDuration)
	return m
}

func (m *Metrics) observeTick(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(status).Inc()
	m.TickDuration.Observe(duration.Seconds())
}

func (m *Metrics) incEvaluated() {
	if m == nil {
		return
	}
	m.OrdersEvaluated.Inc()
}

func (m *Metrics) incSettled(side string) {
	if m == nil {
		return
	}
	m.TradesSettled.WithLabelValues(side).Inc()
}

func (m *Metrics) incFailure(reason string) {
	if m == nil {
		return
	}
	m.SettlementFailures.WithLabelValues(reason).Inc()
}
