package alert

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"resilient-trading-bot/config"
	"resilient-trading-bot/internal/logging"
)

type recordingNotifier struct {
	sent    []*Alert
	enabled bool
	fail    bool
}

func (r *recordingNotifier) Send(a *Alert) error {
	if r.fail {
		return errors.New("transport down")
	}
	r.sent = append(r.sent, a)
	return nil
}

func (r *recordingNotifier) Name() string    { return "recording" }
func (r *recordingNotifier) IsEnabled() bool { return r.enabled }

func quietLogger() *logging.Logger {
	return logging.New(&logging.Config{Level: "FATAL", Output: "stderr"})
}

func newTestDispatcher() *Dispatcher {
	return NewDispatcher(1000, 60*time.Second, quietLogger())
}

func TestDispatchSendsToEnabledNotifiers(t *testing.T) {
	d := newTestDispatcher()
	active := &recordingNotifier{enabled: true}
	inactive := &recordingNotifier{enabled: false}
	d.AddNotifier(active)
	d.AddNotifier(inactive)

	if !d.Dispatch(New(TypeTradeExecuted, PriorityMedium, "t", "m").WithSymbol("ETHUSDT")) {
		t.Fatal("expected dispatch")
	}

	if len(active.sent) != 1 {
		t.Errorf("expected 1 alert at enabled transport, got %d", len(active.sent))
	}
	if len(inactive.sent) != 0 {
		t.Errorf("disabled transport received %d alerts", len(inactive.sent))
	}
}

func TestRateLimitWithinWindow(t *testing.T) {
	d := newTestDispatcher()
	n := &recordingNotifier{enabled: true}
	d.AddNotifier(n)

	base := time.Now()
	d.now = func() time.Time { return base }

	first := d.Dispatch(New(TypeTradeFailed, PriorityHigh, "a", "m").WithSymbol("ETHUSDT"))
	d.now = func() time.Time { return base.Add(30 * time.Second) }
	second := d.Dispatch(New(TypeTradeFailed, PriorityHigh, "b", "m").WithSymbol("ETHUSDT"))

	if !first || second {
		t.Fatalf("expected exactly one dispatch inside window, got %v/%v", first, second)
	}
	if len(n.sent) != 1 {
		t.Errorf("expected 1 sent alert, got %d", len(n.sent))
	}
}

func TestRateLimitExpiresAfterWindow(t *testing.T) {
	d := newTestDispatcher()
	n := &recordingNotifier{enabled: true}
	d.AddNotifier(n)

	base := time.Now()
	d.now = func() time.Time { return base }
	d.Dispatch(New(TypeTradeFailed, PriorityHigh, "a", "m").WithSymbol("ETHUSDT"))

	d.now = func() time.Time { return base.Add(61 * time.Second) }
	if !d.Dispatch(New(TypeTradeFailed, PriorityHigh, "b", "m").WithSymbol("ETHUSDT")) {
		t.Fatal("expected dispatch after window elapsed")
	}
	if len(n.sent) != 2 {
		t.Errorf("expected 2 sent alerts, got %d", len(n.sent))
	}
}

func TestRateLimitKeysAreIndependent(t *testing.T) {
	d := newTestDispatcher()

	base := time.Now()
	d.now = func() time.Time { return base }

	if !d.Dispatch(New(TypeTradeFailed, PriorityHigh, "a", "m").WithSymbol("ETHUSDT")) {
		t.Fatal("first key blocked")
	}
	// Different symbol: separate bucket
	if !d.Dispatch(New(TypeTradeFailed, PriorityHigh, "b", "m").WithSymbol("BTCUSDT")) {
		t.Error("different symbol should not share a rate-limit bucket")
	}
	// Different type, same symbol: separate bucket
	if !d.Dispatch(New(TypeTradeExecuted, PriorityMedium, "c", "m").WithSymbol("ETHUSDT")) {
		t.Error("different type should not share a rate-limit bucket")
	}
	// No symbol: global bucket
	if !d.Dispatch(New(TypeSystemError, PriorityCritical, "d", "m")) {
		t.Error("symbol-less alert should use its own global bucket")
	}
}

func TestHistoryRecordsRateLimitedAlerts(t *testing.T) {
	d := newTestDispatcher()

	base := time.Now()
	d.now = func() time.Time { return base }

	d.Dispatch(New(TypeTradeFailed, PriorityHigh, "first", "m").WithSymbol("ETHUSDT"))
	d.Dispatch(New(TypeTradeFailed, PriorityHigh, "second", "m").WithSymbol("ETHUSDT"))

	history := d.History(0)
	if len(history) != 2 {
		t.Fatalf("expected both alerts in history, got %d", len(history))
	}
	// Newest first
	if history[0].Title != "second" {
		t.Errorf("expected newest alert first, got %q", history[0].Title)
	}
}

func TestHistoryEvictsOldestAtCapacity(t *testing.T) {
	d := NewDispatcher(5, time.Millisecond, quietLogger())

	for i := 0; i < 8; i++ {
		d.Dispatch(New(TypeSignalGenerated, PriorityLow, fmt.Sprintf("alert-%d", i), "m"))
	}

	history := d.History(0)
	if len(history) != 5 {
		t.Fatalf("expected capped history of 5, got %d", len(history))
	}
	if history[0].Title != "alert-7" {
		t.Errorf("expected newest alert alert-7, got %q", history[0].Title)
	}
	if history[4].Title != "alert-3" {
		t.Errorf("expected oldest retained alert alert-3, got %q", history[4].Title)
	}
}

func TestTransportFailureIsNotFatal(t *testing.T) {
	d := newTestDispatcher()
	d.AddNotifier(&recordingNotifier{enabled: true, fail: true})
	healthy := &recordingNotifier{enabled: true}
	d.AddNotifier(healthy)

	if !d.Dispatch(New(TypeSystemError, PriorityCritical, "t", "m")) {
		t.Fatal("failing transport must not block dispatch")
	}
	if len(healthy.sent) != 1 {
		t.Error("healthy transport should still receive the alert")
	}
}

func TestAlertIDsAreUnique(t *testing.T) {
	a := New(TypeBotStarted, PriorityLow, "a", "m")
	b := New(TypeBotStarted, PriorityLow, "b", "m")
	if a.ID == b.ID || a.ID == "" {
		t.Error("expected unique non-empty alert IDs")
	}
}

func TestConvenienceEmitters(t *testing.T) {
	d := newTestDispatcher()
	n := &recordingNotifier{enabled: true}
	d.AddNotifier(n)

	d.SignalRejected("ETHUSDT", "momentum", "Confidence too low")
	d.TradeExecuted("ETHUSDT", "BUY", 2000, 0.5)
	d.BreakerTripped("api_fetch_klines", "closed", "open")
	d.BotStopped("shutdown signal")

	if len(n.sent) != 4 {
		t.Fatalf("expected 4 alerts, got %d", len(n.sent))
	}

	types := map[AlertType]bool{}
	for _, a := range n.sent {
		types[a.Type] = true
	}
	for _, expected := range []AlertType{TypeSignalRejected, TypeTradeExecuted, TypeCircuitBreaker, TypeBotStopped} {
		if !types[expected] {
			t.Errorf("missing alert type %s", expected)
		}
	}
}

func TestNotifierDisabledWithoutCredentials(t *testing.T) {
	tg := NewTelegramNotifier(config.TelegramConfig{Enabled: true})
	if tg.IsEnabled() {
		t.Error("telegram notifier without credentials must be disabled")
	}
	if err := tg.Send(New(TypeBotStarted, PriorityLow, "t", "m")); err != nil {
		t.Errorf("disabled notifier must be a no-op, got %v", err)
	}
}
