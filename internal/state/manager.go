package state

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"resilient-trading-bot/config"
	"resilient-trading-bot/internal/events"
	"resilient-trading-bot/internal/risk"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const backupPrefix = "bot_state_"

// Manager owns the durable BotState snapshot. All reads and writes of
// the in-memory state and the on-disk file go through one mutex, so
// mutation callbacks from concurrent goroutines and the auto-save timer
// never interleave a read-modify-write.
type Manager struct {
	mu             sync.Mutex
	state          *BotState
	filePath       string
	backupDir      string
	maxBackups     int
	saveInterval   time.Duration
	initialBalance float64
	lastSave       time.Time
	mirror         *Mirror
	eventBus       *events.EventBus
	logger         zerolog.Logger
	now            func() time.Time
}

// NewManager creates a state manager for the configured file locations.
// Call Load before using any accessor.
func NewManager(cfg config.StateConfig, eventBus *events.EventBus, logger zerolog.Logger) *Manager {
	return &Manager{
		state:          NewBotState(cfg.InitialBalance),
		filePath:       cfg.FilePath,
		backupDir:      cfg.BackupDir,
		maxBackups:     cfg.MaxBackups,
		saveInterval:   cfg.AutoSaveDuration(),
		initialBalance: cfg.InitialBalance,
		eventBus:       eventBus,
		logger:         logger.With().Str("component", "state").Logger(),
		now:            time.Now,
	}
}

// SetMirror attaches an optional Redis mirror that receives a copy of
// every persisted snapshot. The JSON file remains the durability
// boundary; mirror failures are never surfaced to callers.
func (m *Manager) SetMirror(mirror *Mirror) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mirror = mirror
}

// Load reads the state file from disk. A missing or unreadable file
// yields a fresh default state; Load never fails.
func (m *Manager) Load() *BotState {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn().Err(err).Str("path", m.filePath).
				Msg("state file unreadable, starting with defaults")
		} else {
			m.logger.Info().Str("path", m.filePath).
				Msg("no state file found, starting with defaults")
		}
		m.state = NewBotState(m.initialBalance)
		return m.state.Clone()
	}

	loaded := &BotState{}
	if err := json.Unmarshal(data, loaded); err != nil {
		m.logger.Warn().Err(err).Str("path", m.filePath).
			Msg("state file corrupt, starting with defaults")
		m.state = NewBotState(m.initialBalance)
		return m.state.Clone()
	}

	if loaded.Positions == nil {
		loaded.Positions = make(map[string]*risk.Position)
	}
	if loaded.PendingOrders == nil {
		loaded.PendingOrders = make(map[string]*PendingOrder)
	}

	m.state = loaded
	m.logger.Info().
		Float64("balance", loaded.Balance).
		Int("total_trades", loaded.TotalTrades).
		Int("positions", len(loaded.Positions)).
		Msg("state restored from disk")

	if m.eventBus != nil {
		m.eventBus.Publish(events.Event{
			Type: events.EventStateRestored,
			Data: map[string]interface{}{
				"balance":      loaded.Balance,
				"total_trades": loaded.TotalTrades,
			},
		})
	}
	return m.state.Clone()
}

// Save persists the current state. Non-forced saves inside the throttle
// window are a successful no-op; this absorbs write amplification from
// frequent mutation callbacks.
func (m *Manager) Save(force bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(force)
}

// EmergencySave forces a synchronous write. It is the shutdown and
// crash-handler durability path and must run before any other cleanup.
func (m *Manager) EmergencySave() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ok := m.saveLocked(true)
	if ok {
		m.logger.Info().Msg("emergency save completed")
	} else {
		m.logger.Error().Msg("emergency save failed")
	}
	return ok
}

// saveLocked writes the state file. Callers must hold the mutex.
func (m *Manager) saveLocked(force bool) bool {
	if !force && m.now().Sub(m.lastSave) < m.saveInterval {
		return true
	}

	if err := os.MkdirAll(filepath.Dir(m.filePath), 0755); err != nil {
		m.logger.Error().Err(err).Msg("failed to create state directory")
		return false
	}

	if _, err := os.Stat(m.filePath); err == nil {
		if err := m.backupLocked(); err != nil {
			// A failed backup is not worth losing the save over
			m.logger.Warn().Err(err).Msg("state backup failed")
		}
	}

	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to serialize state")
		return false
	}

	if err := writeFileAtomic(m.filePath, data); err != nil {
		m.logger.Error().Err(err).Str("path", m.filePath).Msg("failed to write state file")
		return false
	}

	m.lastSave = m.now()

	if m.mirror != nil {
		go m.mirror.Store(data)
	}

	if m.eventBus != nil {
		m.eventBus.Publish(events.Event{
			Type: events.EventStateSaved,
			Data: map[string]interface{}{
				"balance": m.state.Balance,
				"path":    m.filePath,
			},
		})
	}

	m.logger.Debug().Float64("balance", m.state.Balance).Msg("state saved")
	return true
}

// backupLocked copies the current state file into the backup directory
// and prunes old backups. Callers must hold the mutex.
func (m *Manager) backupLocked() error {
	if err := os.MkdirAll(m.backupDir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := fmt.Sprintf("%s%s.json", backupPrefix, m.now().Format("20060102_150405.000000000"))
	if err := copyFile(m.filePath, filepath.Join(m.backupDir, name)); err != nil {
		return fmt.Errorf("failed to copy state backup: %w", err)
	}

	return m.pruneBackupsLocked()
}

// pruneBackupsLocked deletes the oldest backups beyond maxBackups.
func (m *Manager) pruneBackupsLocked() error {
	names, err := m.listBackups()
	if err != nil {
		return err
	}

	for len(names) > m.maxBackups {
		oldest := names[0]
		if err := os.Remove(filepath.Join(m.backupDir, oldest)); err != nil {
			return fmt.Errorf("failed to prune backup %s: %w", oldest, err)
		}
		names = names[1:]
	}
	return nil
}

// listBackups returns backup file names sorted oldest first. The
// timestamped naming makes lexicographic order chronological.
func (m *Manager) listBackups() ([]string, error) {
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, backupPrefix) && strings.HasSuffix(name, ".json") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// RestoreFromBackup replaces the state file with the newest backup and
// reloads it. Operator-driven; not part of the normal save path.
func (m *Manager) RestoreFromBackup() error {
	m.mu.Lock()

	names, err := m.listBackups()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if len(names) == 0 {
		m.mu.Unlock()
		return fmt.Errorf("no backups available in %s", m.backupDir)
	}

	newest := names[len(names)-1]
	if err := os.MkdirAll(filepath.Dir(m.filePath), 0755); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := copyFile(filepath.Join(m.backupDir, newest), m.filePath); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to restore backup %s: %w", newest, err)
	}

	m.logger.Info().Str("backup", newest).Msg("state restored from backup")
	m.mu.Unlock()

	m.Load()
	return nil
}

// StartAutoSave launches the background save timer. It runs in its own
// goroutine, separate from the signal and health loops, and shares the
// manager mutex with every other save path.
func (m *Manager) StartAutoSave(ctx context.Context) {
	interval := m.saveInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		m.logger.Info().Dur("interval", interval).Msg("auto-save started")
		for {
			select {
			case <-ticker.C:
				m.Save(false)
			case <-ctx.Done():
				m.logger.Info().Msg("auto-save stopped")
				return
			}
		}
	}()
}

// --- Mutation helpers ---
// Each updates the in-memory state under the mutex and then requests a
// non-forced save.

// UpdateBalance sets the current balance.
func (m *Manager) UpdateBalance(balance float64) {
	m.mu.Lock()
	m.state.Balance = balance
	m.touchLocked()
	m.saveLocked(false)
	m.mu.Unlock()

	m.publishBalance(balance)
}

// AddTrade records a completed trade outcome. PnL is applied to both the
// running total and the balance.
func (m *Manager) AddTrade(pnl float64) {
	m.mu.Lock()
	m.state.TotalTrades++
	if pnl > 0 {
		m.state.WinningTrades++
	} else {
		m.state.LosingTrades++
	}
	m.state.TotalPnL += pnl
	m.state.Balance += pnl
	balance := m.state.Balance
	m.touchLocked()
	m.saveLocked(false)
	m.mu.Unlock()

	m.publishBalance(balance)
}

func (m *Manager) publishBalance(balance float64) {
	if m.eventBus == nil {
		return
	}
	m.eventBus.Publish(events.Event{
		Type: events.EventBalanceUpdate,
		Data: map[string]interface{}{"balance": balance},
	})
}

// UpdatePosition stores or replaces the position for its symbol.
func (m *Manager) UpdatePosition(pos *risk.Position) {
	if pos == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *pos
	m.state.Positions[pos.Symbol] = &copied
	m.touchLocked()
	m.saveLocked(false)
}

// RemovePosition deletes the position for the symbol.
func (m *Manager) RemovePosition(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.state.Positions, symbol)
	m.touchLocked()
	m.saveLocked(false)
}

// AddPendingOrder stores an in-flight order.
func (m *Manager) AddPendingOrder(order *PendingOrder) {
	if order == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *order
	m.state.PendingOrders[order.OrderID] = &copied
	m.touchLocked()
	m.saveLocked(false)
}

// RemovePendingOrder deletes an order once it is resolved.
func (m *Manager) RemovePendingOrder(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.state.PendingOrders, orderID)
	m.touchLocked()
	m.saveLocked(false)
}

// UpdateSignalCount records one generated signal.
func (m *Manager) UpdateSignalCount() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.SignalsGenerated++
	now := m.now()
	m.state.LastSignalTime = &now
	m.touchLocked()
	m.saveLocked(false)
}

// SetWebsocketStatus records market stream connectivity.
func (m *Manager) SetWebsocketStatus(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.WebsocketConnected = connected
	m.touchLocked()
	m.saveLocked(false)
}

// Heartbeat records liveness from the health-check loop.
func (m *Manager) Heartbeat() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.state.LastHeartbeat = &now
	m.touchLocked()
	m.saveLocked(false)
}

func (m *Manager) touchLocked() {
	m.state.LastUpdate = m.now()
}

// --- Accessors ---

// Snapshot returns a deep copy of the current state.
func (m *Manager) Snapshot() *BotState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Balance returns the current balance.
func (m *Manager) Balance() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Balance
}

// Positions returns a deep copy of the open positions.
func (m *Manager) Positions() map[string]*risk.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]*risk.Position, len(m.state.Positions))
	for symbol, pos := range m.state.Positions {
		p := *pos
		out[symbol] = &p
	}
	return out
}

// Stats returns a summary for the status API.
// FilePath returns the primary state file location.
func (m *Manager) FilePath() string {
	return m.filePath
}

func (m *Manager) Stats() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	return map[string]interface{}{
		"balance":             m.state.Balance,
		"total_pnl":           m.state.TotalPnL,
		"total_trades":        m.state.TotalTrades,
		"winning_trades":      m.state.WinningTrades,
		"losing_trades":       m.state.LosingTrades,
		"win_rate":            m.state.WinRate(),
		"open_positions":      len(m.state.Positions),
		"pending_orders":      len(m.state.PendingOrders),
		"signals_generated":   m.state.SignalsGenerated,
		"websocket_connected": m.state.WebsocketConnected,
		"last_update":         m.state.LastUpdate,
	}
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over the destination, so a crash mid-write never leaves a
// truncated state file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
