package ticker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	RefreshTotal    *prometheus.CounterVec
	SymbolUpdates   *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		RefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_refresh_total",
				Help: "Total price feed refreshes.",
			},
			[]string{"status"},
		),
		SymbolUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_symbol_updates_total",
				Help: "Per symbol refresh outcomes.",
			},
			[]string{"symbol", "status"},
		),
		RefreshDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "feed_refresh_duration_seconds",
				Help:    "Price feed refresh duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	registry.MustRegister(m.RefreshTotal, m.SymbolUpdates, m.RefreshDuration)
	return m
}

func (m *Metrics) observeRefresh(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RefreshTotal.WithLabelValues(status).Inc()
	m.RefreshDuration.Observe(duration.Seconds())
}

func (m *Metrics) incSymbol(symbol, status string) {
	if m == nil {
		return
	}
	m.SymbolUpdates.WithLabelValues(symbol, status).Inc()
}
