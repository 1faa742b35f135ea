package resilience

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // Normal operation
	StateOpen     BreakerState = "open"      // Calls blocked until cooldown elapses
	StateHalfOpen BreakerState = "half_open" // Testing recovery
)

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
	SuccessThreshold int           `json:"success_threshold"`
	// Timeout is carried for config compatibility; nothing in the breaker
	// or retry logic reads it.
	Timeout time.Duration `json:"timeout"`
}

// DefaultBreakerConfig returns safe defaults
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
	}
}

// TransitionFunc observes breaker state transitions.
type TransitionFunc func(key string, from, to BreakerState)

// CircuitBreaker is a per-operation state machine. State evaluation is a
// pure function of the recorded counters and timestamps; nothing blocks
// while the state is consulted.
type CircuitBreaker struct {
	key             string
	config          BreakerConfig
	state           BreakerState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	mu              sync.Mutex
	now             func() time.Time
	onTransition    TransitionFunc
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(key string, config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 3
	}
	return &CircuitBreaker{
		key:    key,
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
}

// CanExecute reports whether a call may proceed. An open breaker whose
// recovery timeout has elapsed transitions to half-open and allows the
// call; an open breaker inside the cooldown blocks it. Blocked is a
// distinct outcome from a retryable failure.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) >= cb.config.RecoveryTimeout {
			cb.setState(StateHalfOpen)
			cb.successCount = 0
			return true
		}
		return false
	}
	return true
}

// RecordFailure counts a failure. Reaching the failure threshold opens
// the breaker; a failure while half-open re-arms it immediately because
// the accumulated count is already at the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = cb.now()

	if cb.state != StateOpen && cb.failureCount >= cb.config.FailureThreshold {
		cb.setState(StateOpen)
	}
}

// RecordSuccess counts a success. In half-open, reaching the success
// threshold closes the breaker and zeroes the counters. In closed, a
// success clears the failure streak.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.failureCount = 0
			cb.successCount = 0
			cb.setState(StateClosed)
		}
	case StateClosed:
		cb.failureCount = 0
	}
}

// setState transitions the breaker; callers must hold the mutex.
func (cb *CircuitBreaker) setState(to BreakerState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.onTransition != nil {
		go cb.onTransition(cb.key, from, to)
	}
}

// State returns the current breaker state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns current counters for logging and the status API
func (cb *CircuitBreaker) Stats() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]interface{}{
		"key":               cb.key,
		"state":             string(cb.state),
		"failure_count":     cb.failureCount,
		"success_count":     cb.successCount,
		"last_failure_time": cb.lastFailureTime,
	}
}

// BreakerRegistry owns one breaker per {category}_{operation} key.
// Breakers are created lazily and live for the process lifetime.
type BreakerRegistry struct {
	mu           sync.Mutex
	breakers     map[string]*CircuitBreaker
	config       BreakerConfig
	onTransition TransitionFunc
	logger       zerolog.Logger
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry(config BreakerConfig, logger zerolog.Logger) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
		logger:   logger,
	}
}

// OnTransition registers an observer applied to every breaker in the
// registry, existing and future.
func (r *BreakerRegistry) OnTransition(fn TransitionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTransition = fn
	for _, cb := range r.breakers {
		cb.mu.Lock()
		cb.onTransition = r.transitionObserver()
		cb.mu.Unlock()
	}
}

// Get returns the breaker for the given key, creating it on first use.
func (r *BreakerRegistry) Get(key string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[key]
	if !ok {
		cb = NewCircuitBreaker(key, r.config)
		cb.onTransition = r.transitionObserver()
		r.breakers[key] = cb
		r.logger.Debug().Str("breaker", key).Msg("circuit breaker created")
	}
	return cb
}

// transitionObserver wraps the registry callback with a transition log.
func (r *BreakerRegistry) transitionObserver() TransitionFunc {
	return func(key string, from, to BreakerState) {
		r.logger.Warn().
			Str("breaker", key).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("circuit breaker state changed")
		r.mu.Lock()
		fn := r.onTransition
		r.mu.Unlock()
		if fn != nil {
			fn(key, from, to)
		}
	}
}

// Stats returns the stats of every breaker in the registry.
func (r *BreakerRegistry) Stats() []map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]map[string]interface{}, 0, len(r.breakers))
	for _, cb := range r.breakers {
		out = append(out, cb.Stats())
	}
	return out
}
