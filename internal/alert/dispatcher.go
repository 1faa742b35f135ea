package alert

import (
	"fmt"
	"sync"
	"time"

	"resilient-trading-bot/internal/logging"
)

// Notifier is an outbound alert transport.
type Notifier interface {
	Send(alert *Alert) error
	Name() string
	IsEnabled() bool
}

// Dispatcher records alerts in a bounded history and fans them out to
// the configured transports. Dispatch to transports is rate-limited per
// {alert_type}_{symbol} key; the history records every alert regardless.
// Transport failures are logged and never escalate.
type Dispatcher struct {
	mu          sync.Mutex
	history     []*Alert
	historySize int
	lastSent    map[string]time.Time
	window      time.Duration
	notifiers   []Notifier
	logger      *logging.Logger
	now         func() time.Time
}

// NewDispatcher creates a dispatcher with the given history capacity and
// per-key rate-limit window.
func NewDispatcher(historySize int, window time.Duration, logger *logging.Logger) *Dispatcher {
	if historySize <= 0 {
		historySize = 1000
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		history:     make([]*Alert, 0, historySize),
		historySize: historySize,
		lastSent:    make(map[string]time.Time),
		window:      window,
		logger:      logger.WithComponent("alerts"),
		now:         time.Now,
	}
}

// AddNotifier registers an outbound transport.
func (d *Dispatcher) AddNotifier(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers = append(d.notifiers, n)
	d.logger.Info("Notifier registered", "name", n.Name(), "enabled", n.IsEnabled())
}

// Dispatch records the alert and, unless its rate-limit window is still
// open, sends it to every enabled transport. It reports whether the
// alert was sent (false means rate-limited, not failed).
func (d *Dispatcher) Dispatch(alert *Alert) bool {
	if alert == nil {
		return false
	}

	d.mu.Lock()

	d.appendLocked(alert)

	key := alert.rateKey()
	now := d.now()
	if last, ok := d.lastSent[key]; ok && now.Sub(last) < d.window {
		d.mu.Unlock()
		d.logger.Debug("Alert rate-limited", "key", key, "type", string(alert.Type))
		return false
	}
	d.lastSent[key] = now

	notifiers := make([]Notifier, len(d.notifiers))
	copy(notifiers, d.notifiers)
	d.mu.Unlock()

	d.logger.Info("Alert dispatched",
		"type", string(alert.Type),
		"priority", string(alert.Priority),
		"title", alert.Title,
		"symbol", alert.Symbol)

	for _, n := range notifiers {
		if !n.IsEnabled() {
			continue
		}
		if err := n.Send(alert); err != nil {
			d.logger.Warn("Alert transport failed", "transport", n.Name(), "error", err)
		}
	}
	return true
}

// appendLocked adds the alert to the ring, evicting the oldest entry
// when the capacity is reached. Callers must hold the mutex.
func (d *Dispatcher) appendLocked(alert *Alert) {
	d.history = append(d.history, alert)
	if len(d.history) > d.historySize {
		d.history = d.history[len(d.history)-d.historySize:]
	}
}

// History returns up to limit alerts, newest first. A non-positive limit
// returns the full history.
func (d *Dispatcher) History(limit int) []*Alert {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.history)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]*Alert, limit)
	for i := 0; i < limit; i++ {
		out[i] = d.history[n-1-i]
	}
	return out
}

// Stats returns a summary for the status API.
func (d *Dispatcher) Stats() map[string]interface{} {
	d.mu.Lock()
	defer d.mu.Unlock()

	byType := make(map[string]int)
	for _, a := range d.history {
		byType[string(a.Type)]++
	}
	return map[string]interface{}{
		"history_size":  len(d.history),
		"history_limit": d.historySize,
		"by_type":       byType,
		"transports":    len(d.notifiers),
	}
}

// --- Convenience emitters used by the orchestrator and resilience layer ---

// SignalRejected reports a risk gate rejection.
func (d *Dispatcher) SignalRejected(symbol, strategy, reason string) {
	d.Dispatch(New(TypeSignalRejected, PriorityLow,
		fmt.Sprintf("Signal rejected: %s", symbol), reason).
		WithSymbol(symbol).WithStrategy(strategy))
}

// TradeExecuted reports a completed trade.
func (d *Dispatcher) TradeExecuted(symbol, side string, price, quantity float64) {
	d.Dispatch(New(TypeTradeExecuted, PriorityMedium,
		fmt.Sprintf("Trade executed: %s", symbol),
		fmt.Sprintf("%s %.8f @ %.4f", side, quantity, price)).
		WithSymbol(symbol).
		WithData(map[string]interface{}{"side": side, "price": price, "quantity": quantity}))
}

// TradeFailed reports an execution failure after retries were exhausted.
func (d *Dispatcher) TradeFailed(symbol string, err error) {
	d.Dispatch(New(TypeTradeFailed, PriorityHigh,
		fmt.Sprintf("Trade failed: %s", symbol), err.Error()).
		WithSymbol(symbol))
}

// BreakerTripped reports a circuit breaker opening.
func (d *Dispatcher) BreakerTripped(key, from, to string) {
	d.Dispatch(New(TypeCircuitBreaker, PriorityHigh,
		fmt.Sprintf("Circuit breaker %s", to),
		fmt.Sprintf("Breaker %s moved from %s to %s", key, from, to)).
		WithData(map[string]interface{}{"breaker": key, "from": from, "to": to}))
}

// DrawdownWarning reports balance decline approaching the limit.
func (d *Dispatcher) DrawdownWarning(drawdown, limit float64) {
	d.Dispatch(New(TypeDrawdownWarning, PriorityHigh,
		"Drawdown warning",
		fmt.Sprintf("Drawdown %.2f%% approaching limit %.2f%%", drawdown*100, limit*100)))
}

// BotStarted reports runtime startup.
func (d *Dispatcher) BotStarted(symbols []string) {
	d.Dispatch(New(TypeBotStarted, PriorityLow,
		"Bot started", fmt.Sprintf("Trading %d symbols", len(symbols))).
		WithData(map[string]interface{}{"symbols": symbols}))
}

// BotStopped reports shutdown with its reason.
func (d *Dispatcher) BotStopped(reason string) {
	d.Dispatch(New(TypeBotStopped, PriorityMedium, "Bot stopped", reason))
}

// SystemError reports a HIGH/CRITICAL severity failure.
func (d *Dispatcher) SystemError(title string, err error) {
	d.Dispatch(New(TypeSystemError, PriorityCritical, title, err.Error()))
}
