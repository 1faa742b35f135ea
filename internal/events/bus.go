package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventSignalAccepted  EventType = "SIGNAL_ACCEPTED"
	EventSignalRejected  EventType = "SIGNAL_REJECTED"
	EventTradeExecuted   EventType = "TRADE_EXECUTED"
	EventTradeFailed     EventType = "TRADE_FAILED"
	EventPositionUpdate  EventType = "POSITION_UPDATE"
	EventBalanceUpdate   EventType = "BALANCE_UPDATE"
	EventBreakerTripped  EventType = "CIRCUIT_BREAKER_TRIPPED"
	EventBreakerRecovered EventType = "CIRCUIT_BREAKER_RECOVERED"
	EventStateSaved      EventType = "STATE_SAVED"
	EventStateRestored   EventType = "STATE_RESTORED"
	EventHealthCheck     EventType = "HEALTH_CHECK"
	EventBotStarted      EventType = "BOT_STARTED"
	EventBotStopped      EventType = "BOT_STOPPED"
	EventError           EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	// Set timestamp if not provided
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Notify specific subscribers
	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	// Notify all-event subscribers
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishSignalRejected publishes a signal rejection with its reason
func (eb *EventBus) PublishSignalRejected(symbol, strategy, reason string) {
	eb.Publish(Event{
		Type: EventSignalRejected,
		Data: map[string]interface{}{
			"symbol":   symbol,
			"strategy": strategy,
			"reason":   reason,
		},
	})
}

// PublishTradeExecuted publishes a completed trade
func (eb *EventBus) PublishTradeExecuted(symbol, side string, price, quantity, pnl float64) {
	eb.Publish(Event{
		Type: EventTradeExecuted,
		Data: map[string]interface{}{
			"symbol":   symbol,
			"side":     side,
			"price":    price,
			"quantity": quantity,
			"pnl":      pnl,
		},
	})
}

// PublishBreakerUpdate publishes a circuit breaker state transition
func (eb *EventBus) PublishBreakerUpdate(key, from, to string) {
	eventType := EventBreakerTripped
	if to == "closed" {
		eventType = EventBreakerRecovered
	}
	eb.Publish(Event{
		Type: eventType,
		Data: map[string]interface{}{
			"breaker": key,
			"from":    from,
			"to":      to,
		},
	})
}
