package engine

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
)

// Metrics holds the engine's Prometheus collectors on a registry of its own.
type Metrics struct {
	registry *prometheus.Registry

	events        prometheus.Counter
	barsClosed    *prometheus.CounterVec
	signals       *prometheus.CounterVec
	trades        *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	anomalies     prometheus.Counter
	cash          prometheus.Gauge
	openPositions prometheus.Gauge
	equity        prometheus.Gauge
}

// NewMetrics creates and registers the engine collectors. With withRuntime
// set, Go runtime and process collectors are registered too.
func NewMetrics(runID string, withRuntime bool) *Metrics {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"run_id": runID}

	m := &Metrics{
		registry: registry,
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "papertrade_events_total",
			Help:        "Price events ingested.",
			ConstLabels: labels,
		}),
		barsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "papertrade_bars_closed_total",
			Help:        "Bars closed per resolution.",
			ConstLabels: labels,
		}, []string{"resolution"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "papertrade_signals_total",
			Help:        "Signals received from the strategy or synthesized by the session.",
			ConstLabels: labels,
		}, []string{"side"}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "papertrade_trades_total",
			Help:        "Fills committed to the ledger.",
			ConstLabels: labels,
		}, []string{"side", "reason"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "papertrade_rejections_total",
			Help:        "Orders refused by the OMS or ledger.",
			ConstLabels: labels,
		}, []string{"code"}),
		anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "papertrade_anomalies_total",
			Help:        "Market events dropped as late or malformed.",
			ConstLabels: labels,
		}),
		cash: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "papertrade_cash",
			Help:        "Undrawn cash pool.",
			ConstLabels: labels,
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "papertrade_open_positions",
			Help:        "Keys holding a position.",
			ConstLabels: labels,
		}),
		equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "papertrade_equity",
			Help:        "Portfolio value at the last known prices.",
			ConstLabels: labels,
		}),
	}

	registry.MustRegister(m.events, m.barsClosed, m.signals, m.trades, m.rejections,
		m.anomalies, m.cash, m.openPositions, m.equity)

	if withRuntime {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	return m
}

// Registry returns the registry to expose over HTTP.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) recordEvent() {
	m.events.Inc()
}

func (m *Metrics) recordBar(bar types.Bar) {
	m.barsClosed.WithLabelValues(string(bar.Resolution)).Inc()
}

func (m *Metrics) recordSignal(signal types.Signal) {
	m.signals.WithLabelValues(string(signal.Side)).Inc()
}

func (m *Metrics) recordTrade(trade types.Trade) {
	m.trades.WithLabelValues(string(trade.Side), trade.Reason).Inc()
}

func (m *Metrics) recordRejection(rejection types.Rejection) {
	m.rejections.WithLabelValues(strconv.Itoa(int(rejection.Code))).Inc()
}

func (m *Metrics) recordAnomaly() {
	m.anomalies.Inc()
}

func (m *Metrics) recordPortfolio(state types.PortfolioState, prices map[string]float64) {
	m.cash.Set(state.Cash)
	m.openPositions.Set(float64(len(state.Positions)))
	m.equity.Set(state.Equity(prices))
}
