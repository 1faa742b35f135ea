package database

import (
	"context"
	"fmt"
	"time"
)

// Trade is a journaled trade row.
type Trade struct {
	ID         int64      `json:"id"`
	Symbol     string     `json:"symbol"`
	Side       string     `json:"side"`
	Quantity   float64    `json:"quantity"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  *float64   `json:"exit_price,omitempty"`
	PnL        *float64   `json:"pnl,omitempty"`
	Strategy   string     `json:"strategy"`
	Status     string     `json:"status"`
	OpenedAt   time.Time  `json:"opened_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

// SignalRecord is a journaled gate decision.
type SignalRecord struct {
	ID         int64     `json:"id"`
	Symbol     string    `json:"symbol"`
	SignalType string    `json:"signal_type"`
	Confidence float64   `json:"confidence"`
	Price      float64   `json:"price"`
	Strategy   string    `json:"strategy"`
	Accepted   bool      `json:"accepted"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// Journal persists trades and gate decisions for offline analysis. It is
// optional infrastructure: callers log journal failures and continue.
type Journal struct {
	db *DB
}

// NewJournal creates a journal over an established connection.
func NewJournal(db *DB) *Journal {
	return &Journal{db: db}
}

// RecordTrade inserts an opened trade and fills in its ID.
func (j *Journal) RecordTrade(ctx context.Context, trade *Trade) error {
	query := `
		INSERT INTO trades (symbol, side, quantity, entry_price, strategy, status, opened_at)
		VALUES ($1, $2, $3, $4, $5, 'OPEN', $6)
		RETURNING id`

	err := j.db.Pool.QueryRow(ctx, query,
		trade.Symbol, trade.Side, trade.Quantity, trade.EntryPrice,
		trade.Strategy, trade.OpenedAt,
	).Scan(&trade.ID)
	if err != nil {
		return fmt.Errorf("failed to record trade: %w", err)
	}
	return nil
}

// CloseTrade marks a trade closed with its exit price and outcome.
func (j *Journal) CloseTrade(ctx context.Context, id int64, exitPrice, pnl float64) error {
	query := `
		UPDATE trades
		SET exit_price = $1, pnl = $2, status = 'CLOSED', closed_at = NOW()
		WHERE id = $3`

	tag, err := j.db.Pool.Exec(ctx, query, exitPrice, pnl, id)
	if err != nil {
		return fmt.Errorf("failed to close trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trade %d not found", id)
	}
	return nil
}

// GetOpenTrades returns all trades still marked open.
func (j *Journal) GetOpenTrades(ctx context.Context) ([]*Trade, error) {
	query := `
		SELECT id, symbol, side, quantity, entry_price, exit_price, pnl,
		       COALESCE(strategy, ''), status, opened_at, closed_at
		FROM trades WHERE status = 'OPEN' ORDER BY opened_at`

	rows, err := j.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open trades: %w", err)
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		t := &Trade{}
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Side, &t.Quantity, &t.EntryPrice,
			&t.ExitPrice, &t.PnL, &t.Strategy, &t.Status, &t.OpenedAt, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// GetDailyPnL sums realized PnL for trades closed in the last 24 hours.
func (j *Journal) GetDailyPnL(ctx context.Context) (float64, error) {
	query := `
		SELECT COALESCE(SUM(pnl), 0)
		FROM trades
		WHERE status = 'CLOSED' AND closed_at >= NOW() - INTERVAL '24 hours'`

	var pnl float64
	if err := j.db.Pool.QueryRow(ctx, query).Scan(&pnl); err != nil {
		return 0, fmt.Errorf("failed to query daily pnl: %w", err)
	}
	return pnl, nil
}

// RecordSignal inserts a gate decision.
func (j *Journal) RecordSignal(ctx context.Context, rec *SignalRecord) error {
	query := `
		INSERT INTO signals (symbol, signal_type, confidence, price, strategy, accepted, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	err := j.db.Pool.QueryRow(ctx, query,
		rec.Symbol, rec.SignalType, rec.Confidence, rec.Price,
		rec.Strategy, rec.Accepted, rec.Reason, rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to record signal: %w", err)
	}
	return nil
}

// GetRecentSignals returns the newest gate decisions.
func (j *Journal) GetRecentSignals(ctx context.Context, limit int) ([]*SignalRecord, error) {
	query := `
		SELECT id, symbol, signal_type, confidence, price, COALESCE(strategy, ''),
		       accepted, COALESCE(reason, ''), created_at
		FROM signals ORDER BY created_at DESC LIMIT $1`

	rows, err := j.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var records []*SignalRecord
	for rows.Next() {
		r := &SignalRecord{}
		if err := rows.Scan(&r.ID, &r.Symbol, &r.SignalType, &r.Confidence, &r.Price,
			&r.Strategy, &r.Accepted, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
