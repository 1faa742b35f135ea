package alert

import (
	"time"

	"github.com/google/uuid"
)

// AlertType categorizes notable runtime events
type AlertType string

const (
	TypeSignalGenerated    AlertType = "signal_generated"
	TypeSignalRejected     AlertType = "signal_rejected"
	TypeTradeExecuted      AlertType = "trade_executed"
	TypeTradeFailed        AlertType = "trade_failed"
	TypePositionOpened     AlertType = "position_opened"
	TypePositionClosed     AlertType = "position_closed"
	TypeCircuitBreaker     AlertType = "circuit_breaker"
	TypeDailyLimit         AlertType = "daily_limit"
	TypeDrawdownWarning    AlertType = "drawdown_warning"
	TypeConnectionLost     AlertType = "connection_lost"
	TypeConnectionRestored AlertType = "connection_restored"
	TypeBotStarted         AlertType = "bot_started"
	TypeBotStopped         AlertType = "bot_stopped"
	TypeSystemError        AlertType = "system_error"
)

// Priority represents alert urgency
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Alert is one notable event, created per occurrence and appended to the
// dispatcher's bounded history.
type Alert struct {
	ID        string                 `json:"id"`
	Type      AlertType              `json:"alert_type"`
	Priority  Priority               `json:"priority"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Symbol    string                 `json:"symbol,omitempty"`
	Strategy  string                 `json:"strategy,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// New creates an alert with a fresh ID and timestamp.
func New(alertType AlertType, priority Priority, title, message string) *Alert {
	return &Alert{
		ID:        uuid.New().String(),
		Type:      alertType,
		Priority:  priority,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WithSymbol attaches the symbol the alert concerns.
func (a *Alert) WithSymbol(symbol string) *Alert {
	a.Symbol = symbol
	return a
}

// WithStrategy attaches the originating strategy.
func (a *Alert) WithStrategy(strategy string) *Alert {
	a.Strategy = strategy
	return a
}

// WithData attaches free-form context.
func (a *Alert) WithData(data map[string]interface{}) *Alert {
	a.Data = data
	return a
}

// rateKey is the rate-limit bucket: alerts of the same type for the same
// symbol share one window; symbol-less alerts share a global bucket.
func (a *Alert) rateKey() string {
	scope := a.Symbol
	if scope == "" {
		scope = "global"
	}
	return string(a.Type) + "_" + scope
}
