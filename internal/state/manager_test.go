package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"resilient-trading-bot/config"
	"resilient-trading-bot/internal/risk"
)

func testConfig(t *testing.T) config.StateConfig {
	t.Helper()
	dir := t.TempDir()
	return config.StateConfig{
		FilePath:         filepath.Join(dir, "bot_state.json"),
		BackupDir:        filepath.Join(dir, "backups"),
		AutoSaveInterval: 30,
		MaxBackups:       10,
		InitialBalance:   10000,
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(testConfig(t), nil, zerolog.Nop())
}

func readStateFile(t *testing.T, path string) *BotState {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read state file: %v", err)
	}
	var s BotState
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("failed to parse state file: %v", err)
	}
	return &s
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	m := newTestManager(t)

	s := m.Load()
	if s.Balance != 10000 {
		t.Errorf("expected initial balance 10000, got %v", s.Balance)
	}
	if s.TotalTrades != 0 {
		t.Errorf("expected fresh state, got %d trades", s.TotalTrades)
	}
	if s.Positions == nil || s.PendingOrders == nil {
		t.Error("expected initialized maps")
	}
}

func TestLoadCorruptFileReturnsDefaults(t *testing.T) {
	cfg := testConfig(t)
	if err := os.WriteFile(cfg.FilePath, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(cfg, nil, zerolog.Nop())
	s := m.Load()
	if s.Balance != 10000 {
		t.Errorf("corrupt file should yield defaults, got balance %v", s.Balance)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	m := NewManager(cfg, nil, zerolog.Nop())
	m.Load()

	now := time.Now().Truncate(time.Second)
	m.UpdateBalance(12345.67)
	m.UpdatePosition(&risk.Position{
		Symbol:     "ETHUSDT",
		Side:       risk.SignalBuy,
		Quantity:   1.5,
		EntryPrice: 2000,
		OpenedAt:   now,
	})
	m.AddPendingOrder(&PendingOrder{
		OrderID:  "order-1",
		Symbol:   "BTCUSDT",
		Side:     risk.SignalSell,
		Price:    50000,
		Quantity: 0.1,
		Status:   "NEW",
	})
	m.UpdateSignalCount()
	m.SetWebsocketStatus(true)
	if !m.Save(true) {
		t.Fatal("forced save failed")
	}

	reloaded := NewManager(cfg, nil, zerolog.Nop())
	s := reloaded.Load()

	if s.Balance != 12345.67 {
		t.Errorf("balance: expected 12345.67, got %v", s.Balance)
	}
	pos, ok := s.Positions["ETHUSDT"]
	if !ok {
		t.Fatal("expected ETHUSDT position after reload")
	}
	if pos.Quantity != 1.5 || pos.EntryPrice != 2000 || pos.Side != risk.SignalBuy {
		t.Errorf("position fields did not survive round trip: %+v", pos)
	}
	order, ok := s.PendingOrders["order-1"]
	if !ok {
		t.Fatal("expected pending order after reload")
	}
	if order.Symbol != "BTCUSDT" || order.Price != 50000 {
		t.Errorf("order fields did not survive round trip: %+v", order)
	}
	if s.SignalsGenerated != 1 {
		t.Errorf("expected 1 signal generated, got %d", s.SignalsGenerated)
	}
	if !s.WebsocketConnected {
		t.Error("websocket status did not survive round trip")
	}
}

func TestSaveThrottlesWithinInterval(t *testing.T) {
	cfg := testConfig(t)
	m := NewManager(cfg, nil, zerolog.Nop())
	m.Load()

	if !m.Save(true) {
		t.Fatal("initial save failed")
	}

	m.state.Balance = 9999 // mutate directly to isolate the throttle
	if !m.Save(false) {
		t.Fatal("throttled save should report success")
	}

	onDisk := readStateFile(t, cfg.FilePath)
	if onDisk.Balance == 9999 {
		t.Error("non-forced save inside the throttle window must not write")
	}

	if !m.Save(true) {
		t.Fatal("forced save failed")
	}
	onDisk = readStateFile(t, cfg.FilePath)
	if onDisk.Balance != 9999 {
		t.Error("forced save must bypass the throttle")
	}
}

func TestEmergencySaveBypassesThrottle(t *testing.T) {
	cfg := testConfig(t)
	m := NewManager(cfg, nil, zerolog.Nop())
	m.Load()

	m.Save(true)
	m.state.Balance = 777

	if !m.EmergencySave() {
		t.Fatal("emergency save failed")
	}
	if onDisk := readStateFile(t, cfg.FilePath); onDisk.Balance != 777 {
		t.Error("emergency save did not persist the latest state")
	}
}

func TestBackupRotationKeepsNewestTen(t *testing.T) {
	cfg := testConfig(t)
	m := NewManager(cfg, nil, zerolog.Nop())
	m.Load()

	for i := 0; i < 15; i++ {
		m.UpdateBalance(float64(10000 + i))
		if !m.Save(true) {
			t.Fatalf("save %d failed", i)
		}
	}

	names, err := m.listBackups()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 10 {
		t.Fatalf("expected exactly 10 backups, got %d", len(names))
	}

	// Names are timestamped, so order is chronological; the newest backup
	// holds the state written by the second-to-last save
	newest := readBackup(t, cfg.BackupDir, names[len(names)-1])
	if newest.Balance != 10013 {
		t.Errorf("newest backup balance: expected 10013, got %v", newest.Balance)
	}
}

func readBackup(t *testing.T, dir, name string) *BotState {
	t.Helper()
	return readStateFile(t, filepath.Join(dir, name))
}

func TestRestoreFromBackup(t *testing.T) {
	cfg := testConfig(t)
	m := NewManager(cfg, nil, zerolog.Nop())
	m.Load()

	m.UpdateBalance(5000)
	m.Save(true)
	m.UpdateBalance(6000)
	m.Save(true) // backs up the 5000 file before writing 6000

	if err := os.Remove(cfg.FilePath); err != nil {
		t.Fatal(err)
	}

	if err := m.RestoreFromBackup(); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if m.Balance() != 5000 {
		t.Errorf("expected restored balance 5000, got %v", m.Balance())
	}
}

func TestRestoreFromBackupWithoutBackups(t *testing.T) {
	m := newTestManager(t)
	m.Load()

	if err := m.RestoreFromBackup(); err == nil {
		t.Fatal("expected error with no backups present")
	}
}

func TestAddTradeCounters(t *testing.T) {
	m := newTestManager(t)
	m.Load()

	m.AddTrade(150)
	m.AddTrade(-50)
	m.AddTrade(25)

	s := m.Snapshot()
	if s.TotalTrades != 3 {
		t.Errorf("expected 3 trades, got %d", s.TotalTrades)
	}
	if s.WinningTrades != 2 || s.LosingTrades != 1 {
		t.Errorf("expected 2 wins / 1 loss, got %d / %d", s.WinningTrades, s.LosingTrades)
	}
	if s.TotalPnL != 125 {
		t.Errorf("expected total pnl 125, got %v", s.TotalPnL)
	}
	if s.Balance != 10125 {
		t.Errorf("expected balance 10125, got %v", s.Balance)
	}
}

func TestRemovePositionAndOrder(t *testing.T) {
	m := newTestManager(t)
	m.Load()

	m.UpdatePosition(&risk.Position{Symbol: "ETHUSDT", Side: risk.SignalBuy, Quantity: 1, EntryPrice: 2000})
	m.AddPendingOrder(&PendingOrder{OrderID: "o1", Symbol: "ETHUSDT"})

	m.RemovePosition("ETHUSDT")
	m.RemovePendingOrder("o1")

	s := m.Snapshot()
	if len(s.Positions) != 0 {
		t.Error("expected position removed")
	}
	if len(s.PendingOrders) != 0 {
		t.Error("expected pending order removed")
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	m := newTestManager(t)
	m.Load()

	m.UpdatePosition(&risk.Position{Symbol: "ETHUSDT", Side: risk.SignalBuy, Quantity: 1, EntryPrice: 2000})

	snap := m.Snapshot()
	snap.Balance = -1
	snap.Positions["ETHUSDT"].Quantity = 99

	if m.Balance() == -1 {
		t.Error("snapshot mutation leaked into the manager balance")
	}
	if m.Positions()["ETHUSDT"].Quantity == 99 {
		t.Error("snapshot mutation leaked into the manager positions")
	}
}

func TestHeartbeatRecorded(t *testing.T) {
	m := newTestManager(t)
	m.Load()

	m.Heartbeat()

	s := m.Snapshot()
	if s.LastHeartbeat == nil {
		t.Fatal("expected heartbeat timestamp")
	}
	if time.Since(*s.LastHeartbeat) > time.Minute {
		t.Error("heartbeat timestamp is stale")
	}
}

func TestWinRate(t *testing.T) {
	s := NewBotState(1000)
	if s.WinRate() != 0 {
		t.Error("expected zero win rate with no trades")
	}

	s.TotalTrades = 4
	s.WinningTrades = 3
	if s.WinRate() != 0.75 {
		t.Errorf("expected 0.75, got %v", s.WinRate())
	}
}
