package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"resilient-trading-bot/internal/events"
)

// Metrics holds the runtime counters and gauges exposed on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	SignalsGenerated *prometheus.CounterVec
	SignalsAccepted  *prometheus.CounterVec
	SignalsRejected  *prometheus.CounterVec
	TradesExecuted   *prometheus.CounterVec
	TradesFailed     *prometheus.CounterVec
	BreakerTrips     *prometheus.CounterVec
	StateSaves       prometheus.Counter
	Balance          prometheus.Gauge
	BreakerOpen      *prometheus.GaugeVec
}

// New creates the metric set on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		SignalsGenerated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_signals_generated_total",
			Help: "Trading signals generated, by symbol.",
		}, []string{"symbol"}),
		SignalsAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_signals_accepted_total",
			Help: "Signals accepted by the risk gate, by symbol.",
		}, []string{"symbol"}),
		SignalsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_signals_rejected_total",
			Help: "Signals rejected by the risk gate, by symbol.",
		}, []string{"symbol"}),
		TradesExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_trades_executed_total",
			Help: "Trades executed, by symbol.",
		}, []string{"symbol"}),
		TradesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_trades_failed_total",
			Help: "Trade executions that failed after retries, by symbol.",
		}, []string{"symbol"}),
		BreakerTrips: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions, by breaker key.",
		}, []string{"breaker", "to"}),
		StateSaves: factory.NewCounter(prometheus.CounterOpts{
			Name: "bot_state_saves_total",
			Help: "Successful state file writes.",
		}),
		Balance: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bot_balance",
			Help: "Current account balance.",
		}),
		BreakerOpen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bot_circuit_breaker_open",
			Help: "1 when the breaker is open, 0 otherwise.",
		}, []string{"breaker"}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveBus subscribes the metric set to runtime events so components
// do not need a direct metrics dependency.
func (m *Metrics) ObserveBus(bus *events.EventBus) {
	bus.Subscribe(events.EventSignalGenerated, func(e events.Event) {
		m.SignalsGenerated.WithLabelValues(symbolOf(e)).Inc()
	})
	bus.Subscribe(events.EventSignalAccepted, func(e events.Event) {
		m.SignalsAccepted.WithLabelValues(symbolOf(e)).Inc()
	})
	bus.Subscribe(events.EventSignalRejected, func(e events.Event) {
		m.SignalsRejected.WithLabelValues(symbolOf(e)).Inc()
	})
	bus.Subscribe(events.EventTradeExecuted, func(e events.Event) {
		m.TradesExecuted.WithLabelValues(symbolOf(e)).Inc()
	})
	bus.Subscribe(events.EventTradeFailed, func(e events.Event) {
		m.TradesFailed.WithLabelValues(symbolOf(e)).Inc()
	})
	bus.Subscribe(events.EventStateSaved, func(events.Event) {
		m.StateSaves.Inc()
	})
	bus.Subscribe(events.EventBalanceUpdate, func(e events.Event) {
		if balance, ok := e.Data["balance"].(float64); ok {
			m.Balance.Set(balance)
		}
	})
	bus.Subscribe(events.EventBreakerTripped, func(e events.Event) {
		m.recordBreaker(e)
	})
	bus.Subscribe(events.EventBreakerRecovered, func(e events.Event) {
		m.recordBreaker(e)
	})
}

func (m *Metrics) recordBreaker(e events.Event) {
	key, _ := e.Data["breaker"].(string)
	to, _ := e.Data["to"].(string)
	if key == "" || to == "" {
		return
	}
	m.BreakerTrips.WithLabelValues(key, to).Inc()
	if to == "open" {
		m.BreakerOpen.WithLabelValues(key).Set(1)
	} else {
		m.BreakerOpen.WithLabelValues(key).Set(0)
	}
}

func symbolOf(e events.Event) string {
	if symbol, ok := e.Data["symbol"].(string); ok && symbol != "" {
		return symbol
	}
	return "unknown"
}
