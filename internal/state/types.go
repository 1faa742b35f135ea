package state

import (
	"time"

	"resilient-trading-bot/internal/risk"
)

// PendingOrder is an order submitted but not yet confirmed filled.
type PendingOrder struct {
	OrderID   string          `json:"order_id"`
	Symbol    string          `json:"symbol"`
	Side      risk.SignalType `json:"side"`
	Price     float64         `json:"price"`
	Quantity  float64         `json:"quantity"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// BotState is the durable snapshot of the bot. It is exclusively owned
// by the Manager; other components observe it through accessor calls and
// never mutate it directly.
type BotState struct {
	Balance            float64                  `json:"balance"`
	TotalPnL           float64                  `json:"total_pnl"`
	TotalTrades        int                      `json:"total_trades"`
	WinningTrades      int                      `json:"winning_trades"`
	LosingTrades       int                      `json:"losing_trades"`
	Positions          map[string]*risk.Position `json:"positions"`
	PendingOrders      map[string]*PendingOrder `json:"pending_orders"`
	StartTime          *time.Time               `json:"start_time,omitempty"`
	LastUpdate         time.Time                `json:"last_update"`
	SignalsGenerated   int                      `json:"signals_generated"`
	LastSignalTime     *time.Time               `json:"last_signal_time,omitempty"`
	WebsocketConnected bool                     `json:"websocket_connected"`
	LastHeartbeat      *time.Time               `json:"last_heartbeat,omitempty"`
}

// NewBotState creates a fresh state with the given starting balance.
func NewBotState(initialBalance float64) *BotState {
	now := time.Now()
	return &BotState{
		Balance:       initialBalance,
		Positions:     make(map[string]*risk.Position),
		PendingOrders: make(map[string]*PendingOrder),
		StartTime:     &now,
		LastUpdate:    now,
	}
}

// Clone returns a deep copy of the state.
func (s *BotState) Clone() *BotState {
	copied := *s

	copied.Positions = make(map[string]*risk.Position, len(s.Positions))
	for symbol, pos := range s.Positions {
		p := *pos
		copied.Positions[symbol] = &p
	}

	copied.PendingOrders = make(map[string]*PendingOrder, len(s.PendingOrders))
	for id, order := range s.PendingOrders {
		o := *order
		copied.PendingOrders[id] = &o
	}

	if s.StartTime != nil {
		t := *s.StartTime
		copied.StartTime = &t
	}
	if s.LastSignalTime != nil {
		t := *s.LastSignalTime
		copied.LastSignalTime = &t
	}
	if s.LastHeartbeat != nil {
		t := *s.LastHeartbeat
		copied.LastHeartbeat = &t
	}

	return &copied
}

// WinRate returns the fraction of winning trades, or 0 with no trades.
func (s *BotState) WinRate() float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return float64(s.WinningTrades) / float64(s.TotalTrades)
}
