package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"resilient-trading-bot/config"
	"resilient-trading-bot/internal/alert"
	"resilient-trading-bot/internal/database"
	"resilient-trading-bot/internal/events"
	"resilient-trading-bot/internal/market"
	"resilient-trading-bot/internal/resilience"
	"resilient-trading-bot/internal/risk"
	"resilient-trading-bot/internal/state"
)

// Deps carries the wired components the bot orchestrates. Journal, Mirror
// and Database are optional and may be nil.
type Deps struct {
	Config   *config.Config
	Market   market.Source
	Gate     *risk.Gate
	State    *state.Manager
	Retry    *resilience.Executor
	Executor Executor
	Alerts   *alert.Dispatcher
	Events   *events.EventBus
	Journal  *database.Journal
	DB       *database.DB
	Mirror   *state.Mirror
	Logger   zerolog.Logger
}

// Bot runs the per-symbol signal loops and the health check loop.
type Bot struct {
	cfg      *config.Config
	market   market.Source
	gate     *risk.Gate
	state    *state.Manager
	retry    *resilience.Executor
	executor Executor
	alerts   *alert.Dispatcher
	events   *events.EventBus
	journal  *database.Journal
	db       *database.DB
	mirror   *state.Mirror
	logger   zerolog.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates the bot from its wired dependencies.
func New(deps Deps) *Bot {
	return &Bot{
		cfg:      deps.Config,
		market:   deps.Market,
		gate:     deps.Gate,
		state:    deps.State,
		retry:    deps.Retry,
		executor: deps.Executor,
		alerts:   deps.Alerts,
		events:   deps.Events,
		journal:  deps.Journal,
		db:       deps.DB,
		mirror:   deps.Mirror,
		logger:   deps.Logger.With().Str("component", "bot").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start launches one signal loop per symbol plus the health loop.
func (b *Bot) Start() error {
	symbols := b.cfg.TradingConfig.Symbols
	if len(symbols) == 0 {
		return fmt.Errorf("no trading symbols configured")
	}

	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("bot already running")
	}
	b.running = true
	b.mu.Unlock()

	b.logger.Info().
		Strs("symbols", symbols).
		Str("executor", b.executor.Name()).
		Int("signal_interval", b.cfg.TradingConfig.SignalInterval).
		Msg("starting bot")

	for _, symbol := range symbols {
		b.wg.Add(1)
		go b.signalLoop(symbol)
	}

	b.wg.Add(1)
	go b.healthLoop()

	b.events.Publish(events.Event{
		Type: events.EventBotStarted,
		Data: map[string]interface{}{"symbols": symbols},
	})
	b.alerts.BotStarted(symbols)
	return nil
}

// Stop shuts the loops down, waits for in-flight ticks and forces a
// final state write.
func (b *Bot) Stop(reason string) {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stopChan)
	b.mu.Unlock()

	b.logger.Info().Str("reason", reason).Msg("stopping bot")
	b.wg.Wait()

	b.state.EmergencySave()
	b.alerts.BotStopped(reason)
	b.events.Publish(events.Event{
		Type: events.EventBotStopped,
		Data: map[string]interface{}{"reason": reason},
	})
}

// IsRunning reports whether the loops are active.
func (b *Bot) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *Bot) signalLoop(symbol string) {
	defer b.wg.Done()
	defer b.recoverLoop("signal_loop", symbol)

	interval := time.Duration(b.cfg.TradingConfig.SignalInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := b.logger.With().Str("symbol", symbol).Logger()
	logger.Info().Dur("interval", interval).Msg("signal loop started")

	// First tick immediately so a long interval does not delay startup
	b.tick(symbol)

	for {
		select {
		case <-b.stopChan:
			logger.Info().Msg("signal loop stopped")
			return
		case <-ticker.C:
			b.tick(symbol)
		}
	}
}

func (b *Bot) healthLoop() {
	defer b.wg.Done()
	defer b.recoverLoop("health_loop", "")

	interval := time.Duration(b.cfg.TradingConfig.HealthCheckInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			b.healthTick()
		}
	}
}

// tick runs one full signal cycle for a symbol. Every stage failure is
// contained here so one bad tick never kills the loop.
func (b *Bot) tick(symbol string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := b.logger.With().Str("symbol", symbol).Logger()

	snapshot, err := resilience.ExecuteWithResult(b.retry, ctx, "fetch_market_data", func() (*risk.MarketData, error) {
		return b.market.Snapshot(ctx, symbol)
	})
	if err != nil {
		logger.Warn().Err(err).Msg("market snapshot unavailable, skipping tick")
		return
	}

	signal := b.buildSignal(symbol, snapshot)
	if signal == nil {
		logger.Debug().Float64("rsi", snapshot.RSI).Msg("no signal this tick")
		return
	}

	b.state.UpdateSignalCount()
	b.events.Publish(events.Event{
		Type: events.EventSignalGenerated,
		Data: map[string]interface{}{
			"symbol":     signal.Symbol,
			"type":       string(signal.Type),
			"confidence": signal.Confidence,
		},
	})

	accepted, reason := b.gate.ValidateSignal(signal, b.state.Balance(), b.state.Positions(), snapshot)
	b.journalSignal(ctx, signal, accepted, reason)

	if !accepted {
		// Gate publishes the rejection event with the reason
		b.alerts.SignalRejected(signal.Symbol, signal.Strategy, reason)
		return
	}

	b.events.Publish(events.Event{
		Type: events.EventSignalAccepted,
		Data: map[string]interface{}{
			"symbol": signal.Symbol,
			"type":   string(signal.Type),
		},
	})
	logger.Info().
		Str("type", string(signal.Type)).
		Float64("confidence", signal.Confidence).
		Msg("signal accepted")

	b.execute(ctx, signal)
}

// buildSignal derives a momentum signal from the snapshot. Oversold RSI
// produces a BUY, overbought a SELL, the middle band no signal.
func (b *Bot) buildSignal(symbol string, m *risk.MarketData) *risk.TradingSignal {
	var signalType risk.SignalType
	var strength float64

	switch {
	case m.RSI <= 35:
		signalType = risk.SignalBuy
		strength = (35 - m.RSI) / 35
	case m.RSI >= 65:
		signalType = risk.SignalSell
		strength = (m.RSI - 65) / 35
	default:
		return nil
	}

	confidence := 0.6 + 0.35*strength
	if m.ADX > 25 {
		confidence += 0.04
	}
	if confidence > 0.99 {
		confidence = 0.99
	}

	return &risk.TradingSignal{
		Symbol:     symbol,
		Type:       signalType,
		Confidence: confidence,
		Price:      m.Price,
		Strategy:   b.cfg.TradingConfig.Strategy,
		Timestamp:  time.Now(),
		Indicators: map[string]float64{
			"rsi": m.RSI,
			"adx": m.ADX,
			"atr": m.ATR,
		},
	}
}

// execute submits the accepted signal through the retry executor and
// applies the fill to state, journal, alerts and risk stats.
func (b *Bot) execute(ctx context.Context, signal *risk.TradingSignal) {
	quantity := b.positionQuantity(signal)
	if quantity <= 0 {
		b.logger.Warn().Str("symbol", signal.Symbol).Msg("computed zero quantity, skipping execution")
		return
	}

	var result *ExecutionResult
	err := b.retry.Execute(ctx, "submit_order", func() error {
		var submitErr error
		result, submitErr = b.executor.Submit(ctx, signal, quantity)
		return submitErr
	})
	if err != nil {
		b.logger.Error().Err(err).Str("symbol", signal.Symbol).Msg("execution failed")
		b.events.Publish(events.Event{
			Type: events.EventTradeFailed,
			Data: map[string]interface{}{"symbol": signal.Symbol, "error": err.Error()},
		})
		b.alerts.TradeFailed(signal.Symbol, err)
		return
	}

	b.applyFill(ctx, signal, result)
}

// positionQuantity sizes the order at the configured balance fraction.
func (b *Bot) positionQuantity(signal *risk.TradingSignal) float64 {
	if signal.Price <= 0 {
		return 0
	}
	return b.state.Balance() * b.gate.Limits().MaxPositionSize / signal.Price
}

func (b *Bot) applyFill(ctx context.Context, signal *risk.TradingSignal, result *ExecutionResult) {
	if result.ClosedPosition {
		b.state.AddTrade(result.RealizedPnL)
		b.state.RemovePosition(result.Symbol)
		b.gate.UpdateTradeStats(result.RealizedPnL)
	} else {
		b.state.UpdatePosition(&risk.Position{
			Symbol:       result.Symbol,
			Side:         result.Side,
			Quantity:     result.Quantity,
			EntryPrice:   result.Price,
			CurrentPrice: result.Price,
			OpenedAt:     result.ExecutedAt,
		})
		b.gate.UpdateTradeStats(0)
	}

	b.events.PublishTradeExecuted(result.Symbol, string(result.Side),
		result.Price, result.Quantity, result.RealizedPnL)
	b.alerts.TradeExecuted(result.Symbol, string(result.Side), result.Price, result.Quantity)

	if b.journal != nil {
		trade := &database.Trade{
			Symbol:     result.Symbol,
			Side:       string(result.Side),
			Quantity:   result.Quantity,
			EntryPrice: result.Price,
			Strategy:   signal.Strategy,
			OpenedAt:   result.ExecutedAt,
		}
		if err := b.journal.RecordTrade(ctx, trade); err != nil {
			b.logger.Warn().Err(err).Msg("trade journal write failed")
		}
	}

	b.logger.Info().
		Str("order_id", result.OrderID).
		Str("symbol", result.Symbol).
		Str("side", string(result.Side)).
		Float64("quantity", result.Quantity).
		Float64("pnl", result.RealizedPnL).
		Msg("trade executed")
}

func (b *Bot) journalSignal(ctx context.Context, signal *risk.TradingSignal, accepted bool, reason string) {
	if b.journal == nil {
		return
	}
	rec := &database.SignalRecord{
		Symbol:     signal.Symbol,
		SignalType: string(signal.Type),
		Confidence: signal.Confidence,
		Price:      signal.Price,
		Strategy:   signal.Strategy,
		Accepted:   accepted,
		Reason:     reason,
		CreatedAt:  signal.Timestamp,
	}
	if err := b.journal.RecordSignal(ctx, rec); err != nil {
		b.logger.Warn().Err(err).Msg("signal journal write failed")
	}
}

func (b *Bot) healthTick() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b.state.Heartbeat()

	healthy := true
	if b.db != nil {
		if err := b.db.HealthCheck(ctx); err != nil {
			healthy = false
			b.logger.Warn().Err(err).Msg("database health check failed")
		}
	}
	if b.mirror != nil {
		b.mirror.CheckConnection(ctx)
		if !b.mirror.IsAvailable() {
			b.logger.Warn().Msg("redis mirror unavailable")
		}
	}

	breakerStats := b.retry.Breakers().Stats()
	b.events.Publish(events.Event{
		Type: events.EventHealthCheck,
		Data: map[string]interface{}{
			"healthy":  healthy,
			"breakers": breakerStats,
		},
	})
	b.logger.Debug().Bool("healthy", healthy).Msg("health check complete")
}

// recoverLoop turns a loop panic into an emergency save and a CRITICAL
// alert instead of a crash.
func (b *Bot) recoverLoop(loop, symbol string) {
	if r := recover(); r != nil {
		b.logger.Error().
			Str("loop", loop).
			Str("symbol", symbol).
			Interface("panic", r).
			Msg("loop panicked")
		b.state.EmergencySave()
		b.alerts.SystemError("Loop panic", fmt.Errorf("%s %s: %v", loop, symbol, r))
	}
}

// Status summarizes the runtime for the API layer.
func (b *Bot) Status() map[string]interface{} {
	return map[string]interface{}{
		"running":  b.IsRunning(),
		"symbols":  b.cfg.TradingConfig.Symbols,
		"strategy": b.cfg.TradingConfig.Strategy,
		"executor": b.executor.Name(),
		"dry_run":  b.cfg.TradingConfig.DryRun,
	}
}
