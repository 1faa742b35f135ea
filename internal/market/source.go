package market

import (
	"context"
	"sync"
	"time"

	"resilient-trading-bot/internal/risk"
)

// Source supplies per-symbol market data on demand. Live implementations
// are expected to fail occasionally; callers wrap Snapshot with the retry
// executor.
type Source interface {
	Snapshot(ctx context.Context, symbol string) (*risk.MarketData, error)
}

// priceStaleAfter bounds how old a streamed price may be before the REST
// close price is preferred.
const priceStaleAfter = 60 * time.Second

// PriceCache holds the latest streamed price per symbol. Written by the
// websocket stream, read by the REST client when composing snapshots.
type PriceCache struct {
	mu      sync.RWMutex
	prices  map[string]float64
	updated map[string]time.Time
}

// NewPriceCache creates an empty cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{
		prices:  make(map[string]float64),
		updated: make(map[string]time.Time),
	}
}

// Set records the latest price for a symbol.
func (c *PriceCache) Set(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[symbol] = price
	c.updated[symbol] = time.Now()
}

// Get returns the cached price and whether it is still fresh.
func (c *PriceCache) Get(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	price, ok := c.prices[symbol]
	if !ok {
		return 0, false
	}
	if time.Since(c.updated[symbol]) > priceStaleAfter {
		return 0, false
	}
	return price, true
}

// Len returns the number of cached symbols regardless of freshness.
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.prices)
}
