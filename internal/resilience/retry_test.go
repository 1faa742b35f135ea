package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fastPolicies keeps test backoff in the microsecond range.
func fastPolicies() map[Category]RetryPolicy {
	return map[Category]RetryPolicy{
		CategoryNetwork: {MaxRetries: 5, BaseDelay: time.Microsecond},
		CategoryAPI:     {MaxRetries: 3, BaseDelay: time.Microsecond},
		CategoryData:    {MaxRetries: 2, BaseDelay: time.Microsecond},
		CategoryTrading: {MaxRetries: 1, BaseDelay: time.Microsecond},
		CategorySystem:  {MaxRetries: 0},
		CategoryConfig:  {MaxRetries: 0},
	}
}

func newTestExecutor() *Executor {
	reg := NewBreakerRegistry(DefaultBreakerConfig(), zerolog.Nop())
	return NewExecutor(reg, fastPolicies(), zerolog.Nop())
}

func TestExecuteSucceedsFirstTry(t *testing.T) {
	e := newTestExecutor()

	calls := 0
	err := e.Execute(context.Background(), "fetch_price", func() error {
		calls++
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	e := newTestExecutor()

	calls := 0
	err := e.Execute(context.Background(), "fetch_price", func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestExecuteExhaustsCategoryBudget(t *testing.T) {
	e := newTestExecutor()

	underlying := errors.New("order rejected by exchange")
	calls := 0
	err := e.Execute(context.Background(), "submit_order", func() error {
		calls++
		return underlying
	})

	if !errors.Is(err, underlying) {
		t.Fatalf("expected underlying error, got %v", err)
	}
	// Trading budget is 1 retry: initial attempt + 1 retry
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestExecuteCriticalNeverRetries(t *testing.T) {
	e := newTestExecutor()

	calls := 0
	err := e.Execute(context.Background(), "load_settings", func() error {
		calls++
		return errors.New("permission denied reading config file")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("critical failure must not retry, got %d calls", calls)
	}

	// The breaker must have been debited
	cb := e.Breakers().Get("config_load_settings")
	if cb.Stats()["failure_count"].(int) != 1 {
		t.Error("expected breaker failure recorded for critical error")
	}
}

func TestExecuteSystemCategoryNeverRetries(t *testing.T) {
	e := newTestExecutor()

	calls := 0
	err := e.Execute(context.Background(), "tick", func() error {
		calls++
		return errors.New("unexpected internal condition")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("system failure has no retry budget, got %d calls", calls)
	}
}

func TestExecuteCircuitOpenIsDistinct(t *testing.T) {
	e := newTestExecutor()

	// Trip the breaker for this operation's key up front
	cb := e.Breakers().Get("network_fetch_price")
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}

	calls := 0
	err := e.Execute(context.Background(), "fetch_price", func() error {
		calls++
		return errors.New("connection refused")
	})

	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	// The single probe call ran, but no retries were spent on a blocked circuit
	if calls != 1 {
		t.Errorf("expected 1 call before circuit block, got %d", calls)
	}
}

func TestExecuteReportsSuccessToBreaker(t *testing.T) {
	e := newTestExecutor()

	calls := 0
	err := e.Execute(context.Background(), "fetch_price", func() error {
		calls++
		if calls == 1 {
			return errors.New("timeout waiting for response")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cb := e.Breakers().Get("network_fetch_price")
	if cb.State() != StateClosed {
		t.Errorf("expected closed breaker, got %s", cb.State())
	}
	if cb.Stats()["failure_count"].(int) != 0 {
		t.Error("success should clear the breaker failure streak")
	}
}

func TestExecuteRespectsContextCancellation(t *testing.T) {
	e := newTestExecutor()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Execute(ctx, "fetch_price", func() error {
		t.Fatal("operation must not run on a cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExecuteWithResult(t *testing.T) {
	e := newTestExecutor()

	calls := 0
	price, err := ExecuteWithResult(e, context.Background(), "fetch_price", func() (float64, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("network hiccup")
		}
		return 42500.5, nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 42500.5 {
		t.Errorf("expected 42500.5, got %v", price)
	}
}

func TestBackoffDelayMonotonicAndCapped(t *testing.T) {
	base := 2 * time.Second

	prev := time.Duration(0)
	for n := 0; n < 12; n++ {
		d := BackoffDelay(base, n)
		if d < prev {
			t.Fatalf("delay decreased at retry %d: %v < %v", n, d, prev)
		}
		if d > maxDelay {
			t.Fatalf("delay exceeded cap at retry %d: %v", n, d)
		}
		prev = d
	}

	// 2s * 2^0..4 = 2,4,8,16,32; 2^5 = 64 capped at 60
	if got := BackoffDelay(base, 1); got != 4*time.Second {
		t.Errorf("expected 4s, got %v", got)
	}
	if got := BackoffDelay(base, 5); got != maxDelay {
		t.Errorf("expected cap of %v, got %v", maxDelay, got)
	}
}

func TestJitterFactorRange(t *testing.T) {
	e := newTestExecutor()
	e.policies[CategoryNetwork] = RetryPolicy{MaxRetries: 5, BaseDelay: time.Second}

	for i := 0; i < 100; i++ {
		d := e.backoffDelay(CategoryNetwork, 0)
		if d < 500*time.Millisecond || d > time.Second {
			t.Fatalf("jittered delay out of [0.5s, 1s]: %v", d)
		}
	}
}
