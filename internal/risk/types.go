package risk

import (
	"time"
)

// SignalType represents the direction of a trading signal
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
)

// TradingSignal is a proposed trade awaiting risk approval. It is
// immutable once created; the strategy layer produces it and the gate
// consumes it exactly once.
type TradingSignal struct {
	Symbol     string             `json:"symbol"`
	Type       SignalType         `json:"signal_type"`
	Confidence float64            `json:"confidence"` // 0.0 - 1.0
	Price      float64            `json:"price"`
	Strategy   string             `json:"strategy"`
	Timestamp  time.Time          `json:"timestamp"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
	Metadata   map[string]string  `json:"metadata,omitempty"`
}

// RiskLimits is the configuration snapshot the gate validates against.
// All fractional limits are fractions of balance. Loaded once at startup
// and read-only afterwards.
type RiskLimits struct {
	MaxPositionSize float64 `json:"max_position_size"`
	MaxDailyTrades  int     `json:"max_daily_trades"`
	MaxDailyLoss    float64 `json:"max_daily_loss"`
	MaxDrawdown     float64 `json:"max_drawdown"`
	MinConfidence   float64 `json:"min_confidence"`
	MaxVolatility   float64 `json:"max_volatility"`
	MinVolumeRatio  float64 `json:"min_volume_ratio"`
	MaxCorrelation  float64 `json:"max_correlation"`
}

// MarketData is the per-symbol snapshot supplied by the market data
// source on demand.
type MarketData struct {
	Price     float64 `json:"price"`
	ATR       float64 `json:"atr"`
	Volume    float64 `json:"volume"`
	VolumeAvg float64 `json:"volume_avg"` // 0 means unknown
	ADX       float64 `json:"adx"`
	RSI       float64 `json:"rsi"`
}

// MarketRegime classifies the current market mode
type MarketRegime string

const (
	RegimeTrending MarketRegime = "trending"
	RegimeRanging  MarketRegime = "ranging"
	RegimeVolatile MarketRegime = "volatile"
	RegimeNeutral  MarketRegime = "neutral"
	RegimeUnknown  MarketRegime = "unknown"
)

// MarketConditions is the derived per-symbol assessment. Recomputed on
// every validation call and superseded wholesale; the gate never merges
// a new assessment into an old one.
type MarketConditions struct {
	Symbol        string       `json:"symbol"`
	Volatility    float64      `json:"volatility"` // ATR / price
	VolumeRatio   float64      `json:"volume_ratio"`
	TrendStrength float64      `json:"trend_strength"`
	Regime        MarketRegime `json:"market_regime"`
	Suitable      bool         `json:"is_suitable_for_trading"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// DailyStats tracks per-day trading activity. Reset whenever more than
// 24h have elapsed since LastReset; mutated only via UpdateTradeStats.
type DailyStats struct {
	TradesCount int       `json:"trades_count"`
	TotalPnL    float64   `json:"total_pnl"`
	MaxDrawdown float64   `json:"max_drawdown"` // Most negative intraday PnL
	LastReset   time.Time `json:"last_reset"`
}

// Position is an open position snapshot. A single concrete type is used
// everywhere a position flows; there is no map-shaped fallback.
type Position struct {
	Symbol        string     `json:"symbol"`
	Side          SignalType `json:"side"`
	Quantity      float64    `json:"quantity"`
	EntryPrice    float64    `json:"entry_price"`
	CurrentPrice  float64    `json:"current_price"`
	UnrealizedPnL float64    `json:"unrealized_pnl"`
	OpenedAt      time.Time  `json:"opened_at"`
}

// Value returns the notional value of the position at entry.
func (p *Position) Value() float64 {
	return p.Quantity * p.EntryPrice
}
