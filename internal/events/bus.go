// Package events provides the in-process event bus that fans engine activity
// out to subscribers (the websocket hub, log sinks).
package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTradeExecuted      EventType = "TRADE_EXECUTED"
	EventTradeQueued        EventType = "TRADE_QUEUED"
	EventTradeRejected      EventType = "TRADE_REJECTED"
	EventModeChanged        EventType = "MODE_CHANGED"
	EventBreakerTripped     EventType = "BREAKER_TRIPPED"
	EventBreakerReset       EventType = "BREAKER_RESET"
	EventPauseExpired       EventType = "PAUSE_EXPIRED"
	EventOverrideGranted    EventType = "OVERRIDE_GRANTED"
	EventOverrideCleared    EventType = "OVERRIDE_CLEARED"
	EventAccountReset       EventType = "ACCOUNT_RESET"
	EventSnapshotRecorded   EventType = "SNAPSHOT_RECORDED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Identity  string                 `json:"identity,omitempty"`
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
