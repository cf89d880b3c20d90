// Package metrics exposes engine measurements to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zerodha-strategy/internal/models"
)

// Metrics holds all Prometheus metrics for the strategy engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	TicksTotal        *prometheus.CounterVec // labels: token
	BoundaryDur       prometheus.Histogram
	InstrumentsSeries prometheus.Gauge
	OrdersTotal       *prometheus.CounterVec // labels: side, result
	TradesTotal       *prometheus.CounterVec // labels: action
	ExitPnL           prometheus.Histogram
	AnomaliesTotal    prometheus.Counter
	DailyPnL          prometheus.Gauge
	OpenPositions     prometheus.Gauge
	Halted            prometheus.Gauge // 0=trading, 1=halted
}

// New registers all metrics in a fresh registry under namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "strategy"
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Ticks processed by the executor",
		}, []string{"token"}),
		BoundaryDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "boundary_duration_seconds",
			Help:      "Time to finalize candles and recompute indicators at a boundary",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		InstrumentsSeries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instruments_recomputed",
			Help:      "Instruments recomputed at the last boundary",
		}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Orders sent to the placer",
		}, []string{"side", "result"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Trade decisions emitted",
		}, []string{"action"}),
		ExitPnL: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exit_pnl",
			Help:      "Realized P&L per exit in rupees",
			Buckets:   []float64{-5000, -2000, -1000, -500, -100, 0, 100, 500, 1000, 2000, 5000},
		}),
		AnomaliesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Anomalies emitted",
		}),
		DailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "daily_pnl",
			Help:      "Realized P&L for the current trading day",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Open positions",
		}),
		Halted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trading_halted",
			Help:      "Whether new entries are halted (0=trading, 1=halted)",
		}),
	}

	m.registry.MustRegister(
		m.TicksTotal,
		m.BoundaryDur,
		m.InstrumentsSeries,
		m.OrdersTotal,
		m.TradesTotal,
		m.ExitPnL,
		m.AnomaliesTotal,
		m.DailyPnL,
		m.OpenPositions,
		m.Halted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry the metrics are registered in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TickProcessed counts a tick for token.
func (m *Metrics) TickProcessed(token uint32) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(strconv.FormatUint(uint64(token), 10)).Inc()
}

// BoundaryProcessed records a boundary recompute.
func (m *Metrics) BoundaryProcessed(instruments int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.BoundaryDur.Observe(elapsed.Seconds())
	m.InstrumentsSeries.Set(float64(instruments))
}

// OrderPlaced counts an order outcome.
func (m *Metrics) OrderPlaced(side models.OrderSide, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.OrdersTotal.WithLabelValues(string(side), result).Inc()
}

// RiskState mirrors the risk manager and position book.
func (m *Metrics) RiskState(dailyPnL float64, openPositions int, halted bool) {
	if m == nil {
		return
	}
	m.DailyPnL.Set(dailyPnL)
	m.OpenPositions.Set(float64(openPositions))
	if halted {
		m.Halted.Set(1)
	} else {
		m.Halted.Set(0)
	}
}

// OnTrade counts a trade decision.
func (m *Metrics) OnTrade(ev models.TradeEvent) {
	if m == nil {
		return
	}
	m.TradesTotal.WithLabelValues(string(ev.Action)).Inc()
	if ev.RealizedPnL != nil {
		m.ExitPnL.Observe(*ev.RealizedPnL)
	}
}

// OnAnomaly counts an anomaly.
func (m *Metrics) OnAnomaly(models.Anomaly) {
	if m == nil {
		return
	}
	m.AnomaliesTotal.Inc()
}
