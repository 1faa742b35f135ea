package state

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"resilient-trading-bot/config"
)

const (
	// mirrorKey is the Redis key holding the latest state snapshot.
	mirrorKey = "tradingbot:state:latest"

	// mirrorTTL keeps stale snapshots from outliving a dead bot for long.
	mirrorTTL = 24 * time.Hour

	mirrorOpTimeout = 2 * time.Second
)

// Mirror pushes state snapshots to Redis so an operator (or a standby
// instance) can inspect the latest state without touching the bot's
// filesystem. When Redis is unavailable the last snapshot is held in
// memory and re-synced once the connection recovers. The mirror is
// strictly best-effort; the JSON file is the durability boundary.
type Mirror struct {
	client    *redis.Client
	logger    zerolog.Logger
	available atomic.Bool

	mu       sync.Mutex
	lastSeen []byte
}

// NewMirror connects to Redis and probes availability. A nil return
// means mirroring is disabled.
func NewMirror(cfg config.RedisConfig, logger zerolog.Logger) *Mirror {
	if !cfg.Enabled {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	m := &Mirror{
		client: client,
		logger: logger.With().Str("component", "state_mirror").Logger(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		m.logger.Warn().Err(err).Msg("redis unavailable at startup, mirroring deferred")
		m.available.Store(false)
	} else {
		m.logger.Info().Str("address", cfg.Address).Msg("redis state mirror connected")
		m.available.Store(true)
	}

	return m
}

// Store pushes a serialized snapshot. Failures flip the availability
// flag and keep the snapshot in memory for the next sync; they are never
// returned to the caller.
func (m *Mirror) Store(data []byte) {
	m.mu.Lock()
	m.lastSeen = data
	m.mu.Unlock()

	if !m.available.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorOpTimeout)
	defer cancel()

	if err := m.client.Set(ctx, mirrorKey, data, mirrorTTL).Err(); err != nil {
		m.logger.Warn().Err(err).Msg("failed to mirror state to redis")
		m.available.Store(false)
	}
}

// LoadSnapshot returns the latest mirrored snapshot from Redis, or nil
// when none exists or Redis is unavailable.
func (m *Mirror) LoadSnapshot(ctx context.Context) []byte {
	if !m.available.Load() {
		return nil
	}

	data, err := m.client.Get(ctx, mirrorKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			m.logger.Warn().Err(err).Msg("failed to read mirrored state")
			m.available.Store(false)
		}
		return nil
	}
	return data
}

// CheckConnection pings Redis and re-syncs the held snapshot when the
// connection has recovered. Called from the health-check loop.
func (m *Mirror) CheckConnection(ctx context.Context) {
	if err := m.client.Ping(ctx).Err(); err != nil {
		m.available.Store(false)
		return
	}

	wasDown := !m.available.Load()
	m.available.Store(true)

	if wasDown {
		m.logger.Info().Msg("redis connection recovered")
		m.mu.Lock()
		data := m.lastSeen
		m.mu.Unlock()
		if data != nil {
			m.Store(data)
		}
	}
}

// IsAvailable reports current Redis availability.
func (m *Mirror) IsAvailable() bool {
	return m.available.Load()
}

// Close releases the Redis connection.
func (m *Mirror) Close() error {
	return m.client.Close()
}
