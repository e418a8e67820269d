// Package metrics exposes Prometheus instrumentation for the decision loop.
// Everything registers on a dedicated registry so tests and embedding apps
// never collide with the global default.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fusion-trading-bot/internal/events"
	"fusion-trading-bot/internal/regime"
)

// Metrics holds the bot's collectors.
type Metrics struct {
	registry *prometheus.Registry

	decisions    *prometheus.CounterVec
	trades       *prometheus.CounterVec
	errors       *prometheus.CounterVec
	equity       prometheus.Gauge
	openPosition *prometheus.GaugeVec
	confidence   *prometheus.GaugeVec
	trailingStop *prometheus.GaugeVec
	lossStreak   *prometheus.GaugeVec
	regimeGauge  *prometheus.GaugeVec
	tickDuration *prometheus.HistogramVec
}

// New builds and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "bot_decisions_total", Help: "Fused decisions by direction"},
			[]string{"symbol", "direction"},
		),
		trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "bot_trades_total", Help: "Closed trades by result (win|loss)"},
			[]string{"symbol", "result"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "bot_errors_total", Help: "Errors by component"},
			[]string{"component"},
		),
		equity: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "bot_equity_quote", Help: "Quote asset equity snapshot"},
		),
		openPosition: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "bot_open_position", Help: "1 while a position is held"},
			[]string{"symbol"},
		),
		confidence: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "bot_signal_confidence", Help: "Confidence of the last fused signal"},
			[]string{"symbol"},
		),
		trailingStop: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "bot_trailing_stop", Help: "Current trailing stop price"},
			[]string{"symbol"},
		),
		lossStreak: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "bot_consecutive_losses", Help: "Consecutive losing trades"},
			[]string{"symbol"},
		),
		// One labeled series per regime flipped 0/1 keeps dashboards simple.
		regimeGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "bot_regime", Help: "Active market regime indicator"},
			[]string{"symbol", "regime"},
		),
		tickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bot_tick_duration_seconds",
				Help:    "Wall time of one decision tick",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"symbol"},
		),
	}

	m.registry.MustRegister(
		m.decisions, m.trades, m.errors,
		m.equity, m.openPosition, m.confidence, m.trailingStop, m.lossStreak, m.regimeGauge,
		m.tickDuration,
	)
	return m
}

// Handler serves the registry in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// AttachBus subscribes the counters to the event bus; gauges are set directly
// by the decision loop.
func (m *Metrics) AttachBus(bus *events.EventBus) {
	bus.Subscribe(events.EventSignal, func(e events.Event) {
		symbol, _ := e.Data["symbol"].(string)
		direction, _ := e.Data["direction"].(string)
		m.RecordDecision(symbol, direction)
		if conf, ok := e.Data["confidence"].(float64); ok {
			m.SetConfidence(symbol, conf)
		}
	})
	bus.Subscribe(events.EventTradeClosed, func(e events.Event) {
		symbol, _ := e.Data["symbol"].(string)
		pnl, _ := e.Data["pnl"].(float64)
		m.RecordTrade(symbol, pnl)
	})
	bus.Subscribe(events.EventError, func(e events.Event) {
		source, _ := e.Data["source"].(string)
		m.RecordError(source)
	})
}

// RecordDecision counts one fused decision.
func (m *Metrics) RecordDecision(symbol, direction string) {
	m.decisions.WithLabelValues(symbol, direction).Inc()
}

// RecordTrade counts one closed trade as win or loss.
func (m *Metrics) RecordTrade(symbol string, pnl float64) {
	result := "win"
	if pnl < 0 {
		result = "loss"
	}
	m.trades.WithLabelValues(symbol, result).Inc()
}

// RecordError counts one error for a component.
func (m *Metrics) RecordError(component string) {
	m.errors.WithLabelValues(component).Inc()
}

// SetEquity updates the equity snapshot.
func (m *Metrics) SetEquity(v float64) {
	m.equity.Set(v)
}

// SetOpenPosition flags whether a position is held.
func (m *Metrics) SetOpenPosition(symbol string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	m.openPosition.WithLabelValues(symbol).Set(v)
}

// SetConfidence records the last fused confidence.
func (m *Metrics) SetConfidence(symbol string, v float64) {
	m.confidence.WithLabelValues(symbol).Set(v)
}

// SetTrailingStop records the current trailing stop price.
func (m *Metrics) SetTrailingStop(symbol string, v float64) {
	m.trailingStop.WithLabelValues(symbol).Set(v)
}

// SetLossStreak records the consecutive loss count.
func (m *Metrics) SetLossStreak(symbol string, n int) {
	m.lossStreak.WithLabelValues(symbol).Set(float64(n))
}

// SetRegime flips the per-regime series so exactly one is 1.
func (m *Metrics) SetRegime(symbol string, active regime.Regime) {
	for r := regime.Normal; r <= regime.HighVol; r++ {
		v := 0.0
		if r == active {
			v = 1.0
		}
		m.regimeGauge.WithLabelValues(symbol, r.String()).Set(v)
	}
}

// ObserveTick records one decision tick's wall time.
func (m *Metrics) ObserveTick(symbol string, d time.Duration) {
	m.tickDuration.WithLabelValues(symbol).Observe(d.Seconds())
}
