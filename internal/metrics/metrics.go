// internal/metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the bot's Prometheus instruments behind one registry.
type Metrics struct {
	registry *prometheus.Registry

	SignalsTotal    *prometheus.CounterVec
	SignalsRejected *prometheus.CounterVec
	TradesTotal     *prometheus.CounterVec
	ParseFailures   prometheus.Counter
	Reconnects      prometheus.Counter

	OpenPositions prometheus.Gauge
	DailyPnLSOL   prometheus.Gauge
	SOLPriceUSD   prometheus.Gauge
	WSClients     prometheus.Gauge
}

// New creates the instrument set on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		SignalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mirrorbot_signals_total",
			Help: "Decoded target-wallet swaps by action.",
		}, []string{"action"}),
		SignalsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mirrorbot_signals_rejected_total",
			Help: "Signals turned away by the gate, by reason.",
		}, []string{"reason"}),
		TradesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mirrorbot_trades_total",
			Help: "Replica trade submissions by side and outcome.",
		}, []string{"side", "status"}),
		ParseFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "mirrorbot_parse_failures_total",
			Help: "Transactions the parser could not turn into signals.",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "mirrorbot_monitor_reconnects_total",
			Help: "Monitor reconnection attempts.",
		}),
		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mirrorbot_open_positions",
			Help: "Live replica positions.",
		}),
		DailyPnLSOL: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mirrorbot_daily_pnl_sol",
			Help: "Realized P&L today, in SOL.",
		}),
		SOLPriceUSD: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mirrorbot_sol_price_usd",
			Help: "Cached SOL/USD conversion rate.",
		}),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mirrorbot_ws_clients",
			Help: "Connected dashboard clients.",
		}),
	}
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
