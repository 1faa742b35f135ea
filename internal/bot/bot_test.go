package bot

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"resilient-trading-bot/config"
	"resilient-trading-bot/internal/alert"
	"resilient-trading-bot/internal/events"
	"resilient-trading-bot/internal/logging"
	"resilient-trading-bot/internal/resilience"
	"resilient-trading-bot/internal/risk"
	"resilient-trading-bot/internal/state"
)

// stubSource returns a fixed snapshot for every symbol.
type stubSource struct {
	snapshot *risk.MarketData
	err      error
}

func (s *stubSource) Snapshot(ctx context.Context, symbol string) (*risk.MarketData, error) {
	if s.err != nil {
		return nil, s.err
	}
	copied := *s.snapshot
	return &copied, nil
}

// recordingExecutor records submissions and can be forced to fail.
type recordingExecutor struct {
	mu      sync.Mutex
	submits []*risk.TradingSignal
	result  *ExecutionResult
	err     error
}

func (r *recordingExecutor) Name() string { return "recording" }

func (r *recordingExecutor) Submit(ctx context.Context, signal *risk.TradingSignal, quantity float64) (*ExecutionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submits = append(r.submits, signal)
	if r.err != nil {
		return nil, r.err
	}
	if r.result != nil {
		return r.result, nil
	}
	return &ExecutionResult{
		OrderID:    "test-order",
		Symbol:     signal.Symbol,
		Side:       signal.Type,
		Price:      signal.Price,
		Quantity:   quantity,
		ExecutedAt: time.Now(),
	}, nil
}

func (r *recordingExecutor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.submits)
}

func oversoldSnapshot() *risk.MarketData {
	return &risk.MarketData{
		Price:     2000,
		ATR:       20,
		Volume:    1_000_000,
		VolumeAvg: 1_000_000,
		ADX:       30,
		RSI:       20,
	}
}

func testBot(t *testing.T, source *stubSource, executor Executor) *Bot {
	t.Helper()

	dir := t.TempDir()
	cfg := &config.Config{
		TradingConfig: config.TradingConfig{
			Symbols:             []string{"ETHUSDT"},
			Strategy:            "momentum",
			SignalInterval:      3600,
			HealthCheckInterval: 3600,
			DryRun:              true,
		},
	}

	stateManager := state.NewManager(config.StateConfig{
		FilePath:         filepath.Join(dir, "bot_state.json"),
		BackupDir:        filepath.Join(dir, "backups"),
		AutoSaveInterval: 1,
		MaxBackups:       3,
		InitialBalance:   10000,
	}, nil, zerolog.Nop())
	stateManager.Load()

	limits := risk.RiskLimits{
		MaxPositionSize: 0.1,
		MaxDailyTrades:  10,
		MaxDailyLoss:    0.05,
		MaxDrawdown:     0.15,
		MinConfidence:   0.7,
		MaxVolatility:   0.05,
		MinVolumeRatio:  0.5,
		MaxCorrelation:  0.8,
	}
	quiet := logging.New(&logging.Config{Level: "FATAL", Output: "stderr"})

	registry := resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig(), zerolog.Nop())
	policies := resilience.DefaultRetryPolicies()
	for category, policy := range policies {
		policy.BaseDelay = time.Microsecond
		policies[category] = policy
	}

	return New(Deps{
		Config:   cfg,
		Market:   source,
		Gate:     risk.NewGate(limits, nil, quiet),
		State:    stateManager,
		Retry:    resilience.NewExecutor(registry, policies, zerolog.Nop()),
		Executor: executor,
		Alerts:   alert.NewDispatcher(100, time.Minute, quiet),
		Events:   events.NewEventBus(),
		Logger:   zerolog.Nop(),
	})
}

func TestBuildSignalOversoldBuys(t *testing.T) {
	b := testBot(t, &stubSource{snapshot: oversoldSnapshot()}, &recordingExecutor{})

	signal := b.buildSignal("ETHUSDT", oversoldSnapshot())
	if signal == nil {
		t.Fatal("expected a signal for oversold RSI")
	}
	if signal.Type != risk.SignalBuy {
		t.Errorf("expected BUY, got %s", signal.Type)
	}
	if signal.Confidence < 0.7 {
		t.Errorf("deeply oversold trending market should clear 0.7, got %v", signal.Confidence)
	}
	if signal.Strategy != "momentum" {
		t.Errorf("expected configured strategy, got %q", signal.Strategy)
	}
}

func TestBuildSignalOverboughtSells(t *testing.T) {
	b := testBot(t, &stubSource{snapshot: oversoldSnapshot()}, &recordingExecutor{})

	m := oversoldSnapshot()
	m.RSI = 82
	signal := b.buildSignal("ETHUSDT", m)
	if signal == nil || signal.Type != risk.SignalSell {
		t.Fatalf("expected SELL for overbought RSI, got %+v", signal)
	}
}

func TestBuildSignalNeutralBandSkips(t *testing.T) {
	b := testBot(t, &stubSource{snapshot: oversoldSnapshot()}, &recordingExecutor{})

	m := oversoldSnapshot()
	m.RSI = 50
	if signal := b.buildSignal("ETHUSDT", m); signal != nil {
		t.Fatalf("expected no signal in neutral band, got %+v", signal)
	}
}

func TestTickAcceptedSignalExecutes(t *testing.T) {
	executor := &recordingExecutor{}
	b := testBot(t, &stubSource{snapshot: oversoldSnapshot()}, executor)

	b.tick("ETHUSDT")

	if executor.count() != 1 {
		t.Fatalf("expected 1 submission, got %d", executor.count())
	}
	positions := b.state.Positions()
	if _, ok := positions["ETHUSDT"]; !ok {
		t.Error("expected open position after fill")
	}
	if b.state.Snapshot().SignalsGenerated != 1 {
		t.Errorf("expected 1 generated signal, got %d", b.state.Snapshot().SignalsGenerated)
	}
}

func TestTickRejectedSignalSkipsExecution(t *testing.T) {
	// Mildly oversold gives confidence below the 0.7 floor
	m := oversoldSnapshot()
	m.RSI = 34
	m.ADX = 20
	executor := &recordingExecutor{}
	b := testBot(t, &stubSource{snapshot: m}, executor)

	b.tick("ETHUSDT")

	if executor.count() != 0 {
		t.Fatalf("rejected signal must not execute, got %d submissions", executor.count())
	}
	if b.state.Snapshot().SignalsGenerated != 1 {
		t.Error("rejected signals still count as generated")
	}
}

func TestTickMarketErrorSkips(t *testing.T) {
	executor := &recordingExecutor{}
	b := testBot(t, &stubSource{err: errors.New("connection refused")}, executor)

	b.tick("ETHUSDT")

	if executor.count() != 0 {
		t.Error("tick with no market data must not execute")
	}
	if b.state.Snapshot().SignalsGenerated != 0 {
		t.Error("no signal should be counted without market data")
	}
}

func TestTickExecutionFailureKeepsState(t *testing.T) {
	executor := &recordingExecutor{err: errors.New("order rejected: insufficient balance")}
	b := testBot(t, &stubSource{snapshot: oversoldSnapshot()}, executor)

	b.tick("ETHUSDT")

	if len(b.state.Positions()) != 0 {
		t.Error("failed execution must not open a position")
	}
	if b.state.Balance() != 10000 {
		t.Errorf("failed execution must not move the balance, got %v", b.state.Balance())
	}
}

func TestClosedPositionRealizesPnL(t *testing.T) {
	// Open short closed by the oversold BUY signal
	executor := &recordingExecutor{result: &ExecutionResult{
		OrderID:        "close-1",
		Symbol:         "ETHUSDT",
		Side:           risk.SignalBuy,
		Price:          2100,
		Quantity:       0.5,
		RealizedPnL:    50,
		ClosedPosition: true,
		ExecutedAt:     time.Now(),
	}}
	b := testBot(t, &stubSource{snapshot: oversoldSnapshot()}, executor)
	b.state.UpdatePosition(&risk.Position{
		Symbol: "ETHUSDT", Side: risk.SignalSell, Quantity: 0.5, EntryPrice: 2200,
	})

	b.tick("ETHUSDT")

	if len(b.state.Positions()) != 0 {
		t.Error("closing fill should remove the position")
	}
	if b.state.Balance() != 10050 {
		t.Errorf("expected balance 10050 after realized pnl, got %v", b.state.Balance())
	}
	snapshot := b.state.Snapshot()
	if snapshot.TotalTrades != 1 || snapshot.WinningTrades != 1 {
		t.Errorf("expected 1 winning trade, got %d/%d", snapshot.TotalTrades, snapshot.WinningTrades)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	executor := &recordingExecutor{}
	b := testBot(t, &stubSource{snapshot: oversoldSnapshot()}, executor)

	if err := b.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !b.IsRunning() {
		t.Fatal("bot should report running")
	}
	if err := b.Start(); err == nil {
		t.Error("second start should fail")
	}

	b.Stop("test shutdown")
	if b.IsRunning() {
		t.Error("bot should report stopped")
	}

	// The immediate first tick runs before the loop blocks on the ticker
	if executor.count() != 1 {
		t.Errorf("expected exactly 1 submission from the startup tick, got %d", executor.count())
	}
}

func TestStopForcesStateWrite(t *testing.T) {
	b := testBot(t, &stubSource{snapshot: oversoldSnapshot()}, &recordingExecutor{})

	if err := b.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	b.Stop("shutdown")

	// EmergencySave on stop leaves the position from the startup tick on disk
	reloaded := state.NewManager(config.StateConfig{
		FilePath:       b.state.FilePath(),
		BackupDir:      t.TempDir(),
		MaxBackups:     3,
		InitialBalance: 1,
	}, nil, zerolog.Nop())
	loaded := reloaded.Load()
	if _, ok := loaded.Positions["ETHUSDT"]; !ok {
		t.Error("expected persisted position after shutdown save")
	}
}

func TestPaperExecutorOpenAverageClose(t *testing.T) {
	p := NewPaperExecutor(zerolog.Nop())
	ctx := context.Background()

	buy := &risk.TradingSignal{Symbol: "ETHUSDT", Type: risk.SignalBuy, Price: 2000}
	first, err := p.Submit(ctx, buy, 1)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if first.ClosedPosition {
		t.Error("first fill should open, not close")
	}

	buy2 := &risk.TradingSignal{Symbol: "ETHUSDT", Type: risk.SignalBuy, Price: 2200}
	if _, err := p.Submit(ctx, buy2, 1); err != nil {
		t.Fatalf("average in failed: %v", err)
	}
	pos, ok := p.Position("ETHUSDT")
	if !ok {
		t.Fatal("expected open position")
	}
	if pos.Quantity != 2 || pos.EntryPrice != 2100 {
		t.Errorf("expected qty 2 @ 2100 after averaging, got %v @ %v", pos.Quantity, pos.EntryPrice)
	}

	sell := &risk.TradingSignal{Symbol: "ETHUSDT", Type: risk.SignalSell, Price: 2300}
	closed, err := p.Submit(ctx, sell, 2)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !closed.ClosedPosition {
		t.Fatal("opposite side should close the position")
	}
	if closed.RealizedPnL != 400 {
		t.Errorf("expected pnl 400, got %v", closed.RealizedPnL)
	}
	if _, ok := p.Position("ETHUSDT"); ok {
		t.Error("position should be gone after close")
	}
}

func TestPaperExecutorRejectsInvalidOrders(t *testing.T) {
	p := NewPaperExecutor(zerolog.Nop())
	ctx := context.Background()

	if _, err := p.Submit(ctx, &risk.TradingSignal{Symbol: "ETHUSDT", Type: risk.SignalBuy}, 1); err == nil {
		t.Error("zero price should be rejected")
	}
	if _, err := p.Submit(ctx, &risk.TradingSignal{Symbol: "ETHUSDT", Type: risk.SignalBuy, Price: 2000}, 0); err == nil {
		t.Error("zero quantity should be rejected")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := p.Submit(cancelled, &risk.TradingSignal{Symbol: "ETHUSDT", Type: risk.SignalBuy, Price: 2000}, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
