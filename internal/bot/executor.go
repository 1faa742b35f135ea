package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"resilient-trading-bot/internal/risk"
)

// ExecutionResult describes a completed order submission.
type ExecutionResult struct {
	OrderID        string          `json:"order_id"`
	Symbol         string          `json:"symbol"`
	Side           risk.SignalType `json:"side"`
	Price          float64         `json:"price"`
	Quantity       float64         `json:"quantity"`
	RealizedPnL    float64         `json:"realized_pnl"`
	ClosedPosition bool            `json:"closed_position"`
	ExecutedAt     time.Time       `json:"executed_at"`
}

// Executor submits validated signals for execution.
type Executor interface {
	Submit(ctx context.Context, signal *risk.TradingSignal, quantity float64) (*ExecutionResult, error)
	Name() string
}

// PaperExecutor fills orders virtually against the signal price. A signal
// in the same direction as an open virtual position adds to it; an opposite
// signal closes it and realizes PnL at the signal price.
type PaperExecutor struct {
	mu        sync.Mutex
	positions map[string]*risk.Position
	logger    zerolog.Logger
	now       func() time.Time
}

// NewPaperExecutor creates a paper executor with no open positions.
func NewPaperExecutor(logger zerolog.Logger) *PaperExecutor {
	return &PaperExecutor{
		positions: make(map[string]*risk.Position),
		logger:    logger.With().Str("component", "paper_executor").Logger(),
		now:       time.Now,
	}
}

// Name identifies the executor in logs and status output.
func (p *PaperExecutor) Name() string {
	return "paper"
}

// Submit fills the order immediately at the signal price.
func (p *PaperExecutor) Submit(ctx context.Context, signal *risk.TradingSignal, quantity float64) (*ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if signal.Price <= 0 {
		return nil, fmt.Errorf("invalid signal price %v for %s", signal.Price, signal.Symbol)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("invalid quantity %v for %s", quantity, signal.Symbol)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	result := &ExecutionResult{
		OrderID:    uuid.New().String(),
		Symbol:     signal.Symbol,
		Side:       signal.Type,
		Price:      signal.Price,
		Quantity:   quantity,
		ExecutedAt: p.now(),
	}

	existing, ok := p.positions[signal.Symbol]
	switch {
	case !ok:
		p.positions[signal.Symbol] = &risk.Position{
			Symbol:       signal.Symbol,
			Side:         signal.Type,
			Quantity:     quantity,
			EntryPrice:   signal.Price,
			CurrentPrice: signal.Price,
			OpenedAt:     result.ExecutedAt,
		}

	case existing.Side == signal.Type:
		// Average in
		totalQty := existing.Quantity + quantity
		existing.EntryPrice = (existing.EntryPrice*existing.Quantity + signal.Price*quantity) / totalQty
		existing.Quantity = totalQty
		existing.CurrentPrice = signal.Price

	default:
		// Opposite direction closes the position at the signal price
		pnl := (signal.Price - existing.EntryPrice) * existing.Quantity
		if existing.Side == risk.SignalSell {
			pnl = -pnl
		}
		result.RealizedPnL = pnl
		result.ClosedPosition = true
		delete(p.positions, signal.Symbol)
	}

	p.logger.Info().
		Str("order_id", result.OrderID).
		Str("symbol", result.Symbol).
		Str("side", string(result.Side)).
		Float64("price", result.Price).
		Float64("quantity", result.Quantity).
		Bool("closed", result.ClosedPosition).
		Msg("paper order filled")

	return result, nil
}

// Position returns the open virtual position for a symbol, if any.
func (p *PaperExecutor) Position(symbol string) (*risk.Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return nil, false
	}
	copied := *pos
	return &copied, true
}
