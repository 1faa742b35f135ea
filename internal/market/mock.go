package market

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"resilient-trading-bot/internal/risk"
)

// MockSource produces synthetic but plausible market data for dry runs
// and tests. Prices follow a slow sine walk around a per-symbol base so
// repeated snapshots for the same symbol stay coherent.
type MockSource struct {
	mu    sync.Mutex
	ticks map[string]int
	now   func() time.Time
}

// NewMockSource creates a mock market data source.
func NewMockSource() *MockSource {
	return &MockSource{
		ticks: make(map[string]int),
		now:   time.Now,
	}
}

// basePrice derives a stable pseudo price from the symbol name.
func basePrice(symbol string) float64 {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	// Spread bases between 10 and ~50000
	return 10 + float64(h.Sum32()%50000)
}

// Snapshot returns synthetic market data. It never fails.
func (m *MockSource) Snapshot(_ context.Context, symbol string) (*risk.MarketData, error) {
	m.mu.Lock()
	tick := m.ticks[symbol]
	m.ticks[symbol]++
	m.mu.Unlock()

	base := basePrice(symbol)
	phase := float64(tick) / 10.0
	price := base * (1 + 0.01*math.Sin(phase))

	return &risk.MarketData{
		Price:     price,
		ATR:       price * 0.01, // 1% volatility keeps the gate permissive
		Volume:    1_000_000,
		VolumeAvg: 1_000_000,
		ADX:       25 + 5*math.Sin(phase/2),
		RSI:       50 + 10*math.Sin(phase),
	}, nil
}
