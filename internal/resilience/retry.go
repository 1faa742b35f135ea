package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// ErrCircuitOpen is returned when the circuit breaker refuses the call
// outright. Callers can distinguish "the operation failed" from "we
// refused to even try" with errors.Is.
var ErrCircuitOpen = errors.New("circuit breaker open")

const (
	// maxAttempts is the hard cap on attempts regardless of category budget.
	maxAttempts     = 10
	exponentialBase = 2.0
	maxDelay        = 60 * time.Second
)

// RetryPolicy is the per-category retry budget.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicies returns the built-in per-category budgets.
// SYSTEM and CONFIG failures never retry.
func DefaultRetryPolicies() map[Category]RetryPolicy {
	return map[Category]RetryPolicy{
		CategoryNetwork: {MaxRetries: 5, BaseDelay: 2 * time.Second},
		CategoryAPI:     {MaxRetries: 3, BaseDelay: 1 * time.Second},
		CategoryData:    {MaxRetries: 2, BaseDelay: 500 * time.Millisecond},
		CategoryTrading: {MaxRetries: 1, BaseDelay: 100 * time.Millisecond},
		CategorySystem:  {MaxRetries: 0},
		CategoryConfig:  {MaxRetries: 0},
	}
}

// Executor wraps operations with error classification, circuit breaker
// gating and exponential backoff. It is constructed once and injected
// into every component that talks to an unreliable dependency; the
// resilience policy is an explicit parameter, not hidden global state.
type Executor struct {
	classifier *Classifier
	breakers   *BreakerRegistry
	policies   map[Category]RetryPolicy
	logger     zerolog.Logger
	rng        *rand.Rand
}

// NewExecutor creates a retry executor over the given breaker registry.
// Pass nil policies to use the defaults.
func NewExecutor(breakers *BreakerRegistry, policies map[Category]RetryPolicy, logger zerolog.Logger) *Executor {
	if policies == nil {
		policies = DefaultRetryPolicies()
	}
	return &Executor{
		classifier: NewClassifier(policies),
		breakers:   breakers,
		policies:   policies,
		logger:     logger,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Breakers exposes the registry for status reporting.
func (e *Executor) Breakers() *BreakerRegistry {
	return e.breakers
}

// Execute runs fn, retrying classified transient failures with
// exponential backoff. The backoff wait is a cooperative suspension on
// the context, never a blocking sleep of unrelated work.
//
// Outcomes:
//   - nil: fn eventually succeeded; the associated breaker is credited.
//   - ErrCircuitOpen (wrapped): the breaker refused the call; this does
//     not consume retry budget.
//   - the underlying error: budget exhausted, CRITICAL severity, or a
//     non-retryable category; the breaker is debited.
func (e *Executor) Execute(ctx context.Context, operation string, fn func() error) error {
	retryCount := 0
	var lastBreaker *CircuitBreaker

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			if lastBreaker != nil {
				lastBreaker.RecordSuccess()
			}
			return nil
		}

		ec := e.classifier.Classify(err, operation)
		ec.RetryCount = retryCount

		breaker := e.breakers.Get(ec.BreakerKey())
		lastBreaker = breaker

		if !breaker.CanExecute() {
			e.logger.Warn().
				Str("operation", operation).
				Str("breaker", ec.BreakerKey()).
				Msg("call blocked by open circuit")
			return fmt.Errorf("%s: %w", ec.BreakerKey(), ErrCircuitOpen)
		}

		if ec.Severity == SeverityCritical || ec.Category == CategoryConfig {
			breaker.RecordFailure()
			e.logger.Error().
				Err(err).
				Str("operation", operation).
				Str("category", string(ec.Category)).
				Str("severity", string(ec.Severity)).
				Msg("non-retryable failure, escalating")
			return err
		}

		if ec.RetryCount >= ec.MaxRetries {
			breaker.RecordFailure()
			e.logger.Error().
				Err(err).
				Str("operation", operation).
				Str("category", string(ec.Category)).
				Int("retries", ec.RetryCount).
				Msg("retry budget exhausted")
			return err
		}

		delay := e.backoffDelay(ec.Category, ec.RetryCount)
		e.logger.Warn().
			Err(err).
			Str("operation", operation).
			Str("category", string(ec.Category)).
			Int("retry", ec.RetryCount+1).
			Dur("delay", delay).
			Msg("retrying after failure")

		retryCount++

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return err
		}
	}

	return fmt.Errorf("operation %s: attempt cap reached", operation)
}

// ExecuteWithResult is Execute for operations returning a value.
func ExecuteWithResult[T any](e *Executor, ctx context.Context, operation string, fn func() (T, error)) (T, error) {
	var result T
	err := e.Execute(ctx, operation, func() error {
		var opErr error
		result, opErr = fn()
		return opErr
	})
	return result, err
}

// backoffDelay computes the jittered delay for the given retry ordinal.
// Jitter draws a uniform factor in [0.5, 1.0] so parallel symbols do not
// retry in lockstep.
func (e *Executor) backoffDelay(category Category, retryCount int) time.Duration {
	base := BackoffDelay(e.policies[category].BaseDelay, retryCount)
	jitter := 0.5 + 0.5*e.rng.Float64()
	return time.Duration(float64(base) * jitter)
}

// BackoffDelay returns the raw exponential delay without jitter:
// min(base * 2^retryCount, 60s). Non-decreasing in retryCount.
func BackoffDelay(base time.Duration, retryCount int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := float64(base) * math.Pow(exponentialBase, float64(retryCount))
	if d > float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(d)
}
