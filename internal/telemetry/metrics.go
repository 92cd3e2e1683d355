package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the instrument panel for one governor instance. A private
// registry keeps the exposition free of default collectors and lets tests
// assert on exact values.
type Metrics struct {
	registry *prometheus.Registry

	TicksTotal     prometheus.Counter
	OrdersAdmitted prometheus.Counter
	OrdersRejected *prometheus.CounterVec
	OrdersFailed   prometheus.Counter
	FlattensTotal  *prometheus.CounterVec
	CloseRetries   prometheus.Counter
	CloseExhausted prometheus.Counter
	Equity         prometheus.Gauge
	FloatingProfit prometheus.Gauge
	OpenPositions  prometheus.Gauge
	WindowMode     prometheus.Gauge
	DrawdownHits   prometheus.Gauge
	Halted         prometheus.Gauge
}

// NewMetrics builds and registers the instrument panel.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "windrose_ticks_total",
			Help: "Control loop iterations.",
		}),
		OrdersAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "windrose_orders_admitted_total",
			Help: "Order intents admitted by the window scheduler.",
		}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "windrose_orders_rejected_total",
			Help: "Order intents rejected before submission.",
		}, []string{"reason"}),
		OrdersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "windrose_orders_failed_total",
			Help: "Submitted orders the venue refused.",
		}),
		FlattensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "windrose_flattens_total",
			Help: "Flatten events by firing risk rule.",
		}, []string{"rule"}),
		CloseRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "windrose_close_retries_total",
			Help: "Close attempts retried after a transient venue failure.",
		}),
		CloseExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "windrose_close_retry_exhausted_total",
			Help: "Positions left open after the close retry budget ran out.",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "windrose_equity",
			Help: "Account equity at the last tick.",
		}),
		FloatingProfit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "windrose_floating_profit",
			Help: "Summed unrealized profit at the last tick.",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "windrose_open_positions",
			Help: "Open tagged positions at the last tick.",
		}),
		WindowMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "windrose_window_mode",
			Help: "Admission mode: 0 uninitialized, 1 active, 2 pause.",
		}),
		DrawdownHits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "windrose_drawdown_hits",
			Help: "Max drawdown hits today.",
		}),
		Halted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "windrose_halted",
			Help: "1 while a multi-day halt is in force.",
		}),
	}

	reg.MustRegister(
		m.TicksTotal, m.OrdersAdmitted, m.OrdersRejected, m.OrdersFailed,
		m.FlattensTotal, m.CloseRetries, m.CloseExhausted,
		m.Equity, m.FloatingProfit, m.OpenPositions,
		m.WindowMode, m.DrawdownHits, m.Halted,
	)
	return m
}

// Registry exposes the private registry for the metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
