package risk

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"resilient-trading-bot/internal/events"
	"resilient-trading-bot/internal/logging"
)

// dailyResetWindow is the age after which DailyStats are zeroed.
const dailyResetWindow = 24 * time.Hour

// marginUtilizationCap bounds the required margin to 95% of balance.
const marginUtilizationCap = 0.95

// sameDirectionFactor allows stacking a same-direction position up to
// 1.5x the single-position limit.
const sameDirectionFactor = 1.5

// Gate validates trading signals against the configured limits through
// an ordered pipeline. The first failing stage determines the rejection
// reason. Rejections are normal control flow, not errors.
//
// Pipeline order: confidence, daily limits, market suitability, position
// sizing, correlation, drawdown.
type Gate struct {
	mu               sync.Mutex
	limits           RiskLimits
	marketConditions map[string]*MarketConditions
	dailyStats       DailyStats
	maxBalance       float64
	eventBus         *events.EventBus
	logger           *logging.Logger
	now              func() time.Time
}

// NewGate creates a risk gate with the given limits. The event bus may
// be nil; rejection events are then only logged.
func NewGate(limits RiskLimits, eventBus *events.EventBus, logger *logging.Logger) *Gate {
	if logger == nil {
		logger = logging.Default()
	}
	now := time.Now
	return &Gate{
		limits:           limits,
		marketConditions: make(map[string]*MarketConditions),
		dailyStats:       DailyStats{LastReset: now()},
		eventBus:         eventBus,
		logger:           logger.WithComponent("risk"),
		now:              now,
	}
}

// Limits returns the configured limits snapshot.
func (g *Gate) Limits() RiskLimits {
	return g.limits
}

// ValidateSignal runs the full validation pipeline against the current
// balance, open positions and market data. It returns whether the signal
// may be executed and the reason for the decision.
func (g *Gate) ValidateSignal(signal *TradingSignal, balance float64, openPositions map[string]*Position, market *MarketData) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if signal == nil {
		return false, "No signal provided"
	}

	if ok, reason := g.checkConfidence(signal); !ok {
		return g.reject(signal, reason)
	}
	if ok, reason := g.checkDailyLimits(balance); !ok {
		return g.reject(signal, reason)
	}
	if ok, reason := g.checkMarketConditions(signal, market); !ok {
		return g.reject(signal, reason)
	}
	if ok, reason := g.checkPositionSizing(signal, balance, openPositions); !ok {
		return g.reject(signal, reason)
	}
	if ok, reason := g.checkCorrelation(signal, openPositions); !ok {
		return g.reject(signal, reason)
	}
	if ok, reason := g.checkDrawdown(balance); !ok {
		return g.reject(signal, reason)
	}

	g.logger.Info("Signal accepted",
		"symbol", signal.Symbol,
		"type", string(signal.Type),
		"confidence", signal.Confidence,
		"price", signal.Price)

	return true, "Signal validated successfully"
}

func (g *Gate) reject(signal *TradingSignal, reason string) (bool, string) {
	g.logger.Info("Signal rejected",
		"symbol", signal.Symbol,
		"type", string(signal.Type),
		"reason", reason)
	if g.eventBus != nil {
		g.eventBus.PublishSignalRejected(signal.Symbol, signal.Strategy, reason)
	}
	return false, reason
}

// checkConfidence is stage 1 of the pipeline.
func (g *Gate) checkConfidence(signal *TradingSignal) (bool, string) {
	if signal.Confidence < g.limits.MinConfidence {
		return false, fmt.Sprintf("Confidence %.2f%% below minimum %.2f%%",
			signal.Confidence*100, g.limits.MinConfidence*100)
	}
	return true, ""
}

// checkDailyLimits is stage 2. Stats older than 24h are zeroed before
// the limits are applied.
func (g *Gate) checkDailyLimits(balance float64) (bool, string) {
	g.resetDailyStatsIfStale()

	if g.dailyStats.TradesCount >= g.limits.MaxDailyTrades {
		return false, fmt.Sprintf("Daily trade limit reached (%d/%d)",
			g.dailyStats.TradesCount, g.limits.MaxDailyTrades)
	}

	maxLoss := g.limits.MaxDailyLoss * balance
	if g.dailyStats.TotalPnL < -maxLoss {
		return false, fmt.Sprintf("Daily loss %.2f exceeds limit %.2f",
			-g.dailyStats.TotalPnL, maxLoss)
	}
	return true, ""
}

// checkMarketConditions is stage 3. The derived assessment replaces any
// previous one for the symbol.
func (g *Gate) checkMarketConditions(signal *TradingSignal, market *MarketData) (bool, string) {
	if market == nil {
		return false, "No market data available"
	}

	conditions := g.assessMarket(signal, market)
	g.marketConditions[signal.Symbol] = conditions

	if conditions.Volatility > g.limits.MaxVolatility {
		return false, fmt.Sprintf("Volatility %.2f%% exceeds maximum %.2f%%",
			conditions.Volatility*100, g.limits.MaxVolatility*100)
	}
	if market.VolumeAvg > 0 && conditions.VolumeRatio < g.limits.MinVolumeRatio {
		return false, fmt.Sprintf("Volume ratio %.2f below minimum %.2f",
			conditions.VolumeRatio, g.limits.MinVolumeRatio)
	}
	if !conditions.Suitable {
		return false, fmt.Sprintf("Market regime %s unsuitable for trading", conditions.Regime)
	}
	return true, ""
}

// assessMarket derives MarketConditions from the raw snapshot. The
// regime heuristic is intentionally coarse; it separates calm trending
// and ranging markets from volatile ones.
func (g *Gate) assessMarket(signal *TradingSignal, market *MarketData) *MarketConditions {
	volatility := 0.0
	if signal.Price > 0 {
		volatility = market.ATR / signal.Price
	}

	volumeRatio := 1.0
	if market.VolumeAvg > 0 {
		volumeRatio = market.Volume / market.VolumeAvg
	}

	regime := deriveRegime(market.ADX, volatility)

	suitable := regime == RegimeTrending || regime == RegimeRanging || regime == RegimeNeutral
	if volatility > g.limits.MaxVolatility {
		suitable = false
	}

	return &MarketConditions{
		Symbol:        signal.Symbol,
		Volatility:    volatility,
		VolumeRatio:   volumeRatio,
		TrendStrength: market.ADX,
		Regime:        regime,
		Suitable:      suitable,
		UpdatedAt:     g.now(),
	}
}

// deriveRegime maps trend strength and volatility to a market regime.
func deriveRegime(trendStrength, volatility float64) MarketRegime {
	switch {
	case trendStrength > 30 && volatility < 0.03:
		return RegimeTrending
	case trendStrength < 20 && volatility < 0.02:
		return RegimeRanging
	case volatility > 0.04:
		return RegimeVolatile
	default:
		return RegimeNeutral
	}
}

// checkPositionSizing is stage 4. The proposed size is a fixed fraction
// of balance; stacking onto an existing same-direction position is
// allowed up to 1.5x that fraction.
func (g *Gate) checkPositionSizing(signal *TradingSignal, balance float64, openPositions map[string]*Position) (bool, string) {
	if signal.Price <= 0 {
		return false, "Invalid signal price"
	}

	proposedValue := balance * g.limits.MaxPositionSize

	if existing, ok := openPositions[signal.Symbol]; ok && existing.Side == signal.Type {
		combined := existing.Value() + proposedValue
		limit := balance * g.limits.MaxPositionSize * sameDirectionFactor
		if combined > limit {
			return false, fmt.Sprintf("Combined position value %.2f exceeds limit %.2f for %s",
				combined, limit, signal.Symbol)
		}
	}

	if proposedValue > balance*marginUtilizationCap {
		return false, fmt.Sprintf("Required margin %.2f exceeds %.0f%% of balance",
			proposedValue, marginUtilizationCap*100)
	}
	return true, ""
}

// checkCorrelation is stage 5. The coefficient is a coarse estimate
// based on asset identity, not a statistical measure.
func (g *Gate) checkCorrelation(signal *TradingSignal, openPositions map[string]*Position) (bool, string) {
	for symbol, pos := range openPositions {
		if symbol == signal.Symbol {
			continue
		}
		corr := estimateCorrelation(signal.Symbol, pos.Symbol)
		if corr > g.limits.MaxCorrelation {
			return false, fmt.Sprintf("Correlation %.2f with %s exceeds maximum %.2f",
				corr, pos.Symbol, g.limits.MaxCorrelation)
		}
	}
	return true, ""
}

// checkDrawdown is stage 6. The running peak balance persists for the
// life of the gate instance.
func (g *Gate) checkDrawdown(balance float64) (bool, string) {
	if balance > g.maxBalance {
		g.maxBalance = balance
	}
	if g.maxBalance <= 0 {
		return true, ""
	}

	drawdown := (g.maxBalance - balance) / g.maxBalance
	if drawdown > g.limits.MaxDrawdown {
		return false, fmt.Sprintf("Drawdown %.2f%% exceeds maximum %.2f%%",
			drawdown*100, g.limits.MaxDrawdown*100)
	}
	return true, ""
}

// UpdateTradeStats feeds the outcome of an executed trade back into the
// daily stats. Called by the orchestrator after execution.
func (g *Gate) UpdateTradeStats(pnl float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.resetDailyStatsIfStale()

	g.dailyStats.TradesCount++
	g.dailyStats.TotalPnL += pnl
	if g.dailyStats.TotalPnL < g.dailyStats.MaxDrawdown {
		g.dailyStats.MaxDrawdown = g.dailyStats.TotalPnL
	}

	g.logger.Debug("Daily stats updated",
		"trades", g.dailyStats.TradesCount,
		"total_pnl", g.dailyStats.TotalPnL)
}

// resetDailyStatsIfStale zeroes the stats when the 24h window has
// elapsed. Callers must hold the mutex.
func (g *Gate) resetDailyStatsIfStale() {
	if g.now().Sub(g.dailyStats.LastReset) >= dailyResetWindow {
		g.dailyStats = DailyStats{LastReset: g.now()}
		g.logger.Info("Daily stats reset")
	}
}

// DailyStats returns a copy of the current daily stats.
func (g *Gate) DailyStats() DailyStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dailyStats
}

// MarketConditions returns the last assessment for the symbol, or nil.
func (g *Gate) MarketConditions(symbol string) *MarketConditions {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.marketConditions[symbol]; ok {
		copied := *c
		return &copied
	}
	return nil
}

// Stats returns a summary for the status API.
func (g *Gate) Stats() map[string]interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	return map[string]interface{}{
		"daily_trades":    g.dailyStats.TradesCount,
		"daily_pnl":       g.dailyStats.TotalPnL,
		"daily_drawdown":  g.dailyStats.MaxDrawdown,
		"last_reset":      g.dailyStats.LastReset,
		"peak_balance":    g.maxBalance,
		"tracked_symbols": len(g.marketConditions),
	}
}

// quoteAssets are the quote currencies stripped when extracting the base
// asset from a symbol like "ETHUSDT".
var quoteAssets = []string{"USDT", "BUSD", "USDC", "FDUSD", "TUSD", "BTC", "ETH", "BNB"}

// majorCryptoAssets are base assets treated as mutually correlated.
var majorCryptoAssets = map[string]bool{
	"BTC": true, "ETH": true, "BNB": true, "SOL": true, "ADA": true,
	"XRP": true, "DOGE": true, "DOT": true, "AVAX": true, "LINK": true,
	"MATIC": true, "LTC": true,
}

// baseAsset extracts the base asset from a trading pair symbol.
func baseAsset(symbol string) string {
	for _, quote := range quoteAssets {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return strings.TrimSuffix(symbol, quote)
		}
	}
	return symbol
}

// estimateCorrelation returns a coarse correlation estimate between two
// trading pairs: 1.0 for the same base asset, 0.7 when both bases are
// major crypto assets, 0.3 otherwise.
func estimateCorrelation(a, b string) float64 {
	baseA := baseAsset(a)
	baseB := baseAsset(b)

	if baseA == baseB {
		return 1.0
	}
	if majorCryptoAssets[baseA] && majorCryptoAssets[baseB] {
		return 0.7
	}
	return 0.3
}
