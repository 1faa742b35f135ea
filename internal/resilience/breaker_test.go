package resilience

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestBreaker() *CircuitBreaker {
	return NewCircuitBreaker("network_test", BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
	})
}

func TestBreakerStartsClosed(t *testing.T) {
	cb := newTestBreaker()

	if cb.State() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.State())
	}
	if !cb.CanExecute() {
		t.Error("closed breaker should allow execution")
	}
}

func TestBreakerOpensAtFailureThreshold(t *testing.T) {
	cb := newTestBreaker()

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
		if cb.State() != StateClosed {
			t.Fatalf("breaker opened after %d failures, threshold is 5", i+1)
		}
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("expected open after 5 failures, got %s", cb.State())
	}
	if cb.CanExecute() {
		t.Error("open breaker inside cooldown should block execution")
	}
}

func TestBreakerRecoveryTimeout(t *testing.T) {
	cb := newTestBreaker()

	base := time.Now()
	cb.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	if cb.CanExecute() {
		t.Fatal("breaker should block before recovery timeout")
	}

	// Just before the timeout the breaker stays open
	cb.now = func() time.Time { return base.Add(59 * time.Second) }
	if cb.CanExecute() {
		t.Error("breaker allowed execution before recovery timeout elapsed")
	}

	// At the timeout the breaker lets one call through and goes half-open
	cb.now = func() time.Time { return base.Add(60 * time.Second) }
	if !cb.CanExecute() {
		t.Fatal("breaker should allow execution after recovery timeout")
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("expected half_open after recovery, got %s", cb.State())
	}
}

func TestBreakerHalfOpenClosesAfterSuccesses(t *testing.T) {
	cb := newTestBreaker()
	base := time.Now()
	cb.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	cb.now = func() time.Time { return base.Add(61 * time.Second) }
	if !cb.CanExecute() {
		t.Fatal("expected half-open transition")
	}

	cb.RecordSuccess()
	cb.RecordSuccess()
	if cb.State() != StateHalfOpen {
		t.Fatalf("breaker closed after 2 successes, threshold is 3")
	}

	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after 3 successes, got %s", cb.State())
	}

	// Counters must be zeroed on close
	if cb.failureCount != 0 || cb.successCount != 0 {
		t.Errorf("expected zeroed counters, got failures=%d successes=%d",
			cb.failureCount, cb.successCount)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := newTestBreaker()
	base := time.Now()
	cb.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	cb.now = func() time.Time { return base.Add(61 * time.Second) }
	if !cb.CanExecute() {
		t.Fatal("expected half-open transition")
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("expected re-opened breaker after half-open failure, got %s", cb.State())
	}
	if cb.CanExecute() {
		t.Error("re-opened breaker should block inside the new cooldown")
	}
}

func TestBreakerSuccessClearsFailureStreak(t *testing.T) {
	cb := newTestBreaker()

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	if cb.State() != StateClosed {
		t.Error("failure streak should restart after a success")
	}
}

func TestRegistryCreatesBreakersLazily(t *testing.T) {
	reg := NewBreakerRegistry(DefaultBreakerConfig(), zerolog.Nop())

	a := reg.Get("network_fetch_price")
	b := reg.Get("network_fetch_price")
	if a != b {
		t.Error("registry should return the same breaker for the same key")
	}

	c := reg.Get("api_place_order")
	if a == c {
		t.Error("distinct keys should get distinct breakers")
	}

	if len(reg.Stats()) != 2 {
		t.Errorf("expected 2 breakers, got %d", len(reg.Stats()))
	}
}

func TestRegistryTransitionObserver(t *testing.T) {
	reg := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute, SuccessThreshold: 1}, zerolog.Nop())

	transitions := make(chan string, 1)
	reg.OnTransition(func(key string, from, to BreakerState) {
		transitions <- key + ":" + string(from) + ">" + string(to)
	})

	reg.Get("trading_submit").RecordFailure()

	select {
	case got := <-transitions:
		want := "trading_submit:closed>open"
		if got != want {
			t.Errorf("expected transition %q, got %q", want, got)
		}
	case <-time.After(time.Second):
		t.Fatal("transition observer was not invoked")
	}
}
