package events

import (
	"sync"
	"time"
)

// EventType distinguishes the events flowing through the bus.
type EventType string

const (
	EventSignal          EventType = "SIGNAL"
	EventTradeOpened     EventType = "TRADE_OPENED"
	EventTradeClosed     EventType = "TRADE_CLOSED"
	EventStateTransition EventType = "STATE_TRANSITION"
	EventRisk            EventType = "RISK"
	EventError           EventType = "ERROR"
)

// Event is one bus message. Data carries primitive fields so subscribers
// never import the publishing packages.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber handles events. Each delivery runs on its own goroutine, so a
// slow subscriber never stalls the decision loop.
type Subscriber func(Event)

// EventBus fans events out to per-type and catch-all subscribers.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a subscriber for one event type.
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for every event type.
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish delivers an event to all matching subscribers without blocking.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range eb.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishSignal publishes a fused decision.
func (eb *EventBus) PublishSignal(symbol, direction string, confidence float64, consensus int, regime string) {
	eb.Publish(Event{
		Type: EventSignal,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"direction":  direction,
			"confidence": confidence,
			"consensus":  consensus,
			"regime":     regime,
		},
	})
}

// PublishTradeOpened publishes a confirmed entry fill.
func (eb *EventBus) PublishTradeOpened(symbol string, entryPrice, quantity, stopLoss float64) {
	eb.Publish(Event{
		Type: EventTradeOpened,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"entry_price": entryPrice,
			"quantity":    quantity,
			"stop_loss":   stopLoss,
		},
	})
}

// PublishTradeClosed publishes a confirmed exit fill.
func (eb *EventBus) PublishTradeClosed(symbol string, entryPrice, exitPrice, quantity, pnl float64, reason string) {
	eb.Publish(Event{
		Type: EventTradeClosed,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"entry_price": entryPrice,
			"exit_price":  exitPrice,
			"quantity":    quantity,
			"pnl":         pnl,
			"reason":      reason,
		},
	})
}

// PublishStateTransition publishes a position state machine transition.
func (eb *EventBus) PublishStateTransition(symbol, from, to, reason string) {
	eb.Publish(Event{
		Type: EventStateTransition,
		Data: map[string]interface{}{
			"symbol": symbol,
			"from":   from,
			"to":     to,
			"reason": reason,
		},
	})
}

// PublishRisk publishes a risk admission trip: cooldown armed, daily limit
// hit, or an invariant violation.
func (eb *EventBus) PublishRisk(symbol, kind, detail string) {
	eb.Publish(Event{
		Type: EventRisk,
		Data: map[string]interface{}{
			"symbol": symbol,
			"kind":   kind,
			"detail": detail,
		},
	})
}

// PublishError publishes a non-fatal error.
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
