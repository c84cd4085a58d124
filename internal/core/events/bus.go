package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultMaxInFlight bounds the handler goroutines a bus runs at once.
const DefaultMaxInFlight = 64

type Event interface {
	EventType() string
	EventID() string
	OccurredAt() time.Time
	Payload() interface{}
}

type BaseEvent struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

func (e BaseEvent) EventType() string     { return e.Type }
func (e BaseEvent) EventID() string       { return e.ID }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) Payload() interface{}  { return e.Data }

type Handler func(ctx context.Context, event Event) error

// EventBus fans events out to subscribers. Handler failures and panics are
// logged and never reach the publisher.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	closed   bool

	slots    chan struct{}
	inFlight sync.WaitGroup
	logger   *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return NewEventBusWithLimit(logger, DefaultMaxInFlight)
}

// NewEventBusWithLimit caps concurrently running handlers at limit. Publish
// blocks while every slot is taken.
func NewEventBusWithLimit(logger *slog.Logger, limit int) *EventBus {
	if limit < 1 {
		limit = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers: make(map[string][]Handler),
		slots:    make(chan struct{}, limit),
		logger:   logger,
	}
}

func (eb *EventBus) Subscribe(eventType string, handler Handler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
	eb.logger.Debug("event handler registered",
		"event_type", eventType,
		"total_handlers", len(eb.handlers[eventType]))
}

func (eb *EventBus) SubscribeMany(eventTypes []string, handler Handler) {
	for _, t := range eventTypes {
		eb.Subscribe(t, handler)
	}
}

// Publish runs every handler for the event type asynchronously. The context
// handed to handlers keeps the request values but not its cancellation.
func (eb *EventBus) Publish(ctx context.Context, event Event) error {
	eb.mu.RLock()
	if eb.closed {
		eb.mu.RUnlock()
		return fmt.Errorf("event bus closed, dropping %s", event.EventType())
	}
	handlers := eb.handlers[event.EventType()]
	// Add under the read lock so Close cannot start waiting in between.
	eb.inFlight.Add(len(handlers))
	eb.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	detached := context.WithoutCancel(ctx)
	for _, h := range handlers {
		eb.slots <- struct{}{}
		go func(h Handler) {
			defer func() {
				<-eb.slots
				eb.inFlight.Done()
			}()
			eb.run(detached, h, event)
		}(h)
	}
	return nil
}

func (eb *EventBus) run(ctx context.Context, h Handler, event Event) {
	defer func() {
		if rec := recover(); rec != nil {
			eb.logger.Error("event handler panicked",
				"event_type", event.EventType(),
				"event_id", event.EventID(),
				"panic", rec)
		}
	}()
	if err := h(ctx, event); err != nil {
		eb.logger.Error("event handler failed",
			"event_type", event.EventType(),
			"event_id", event.EventID(),
			"error", err)
	}
}

// Wait blocks until every handler started by Publish has returned.
func (eb *EventBus) Wait() {
	eb.inFlight.Wait()
}

// Close rejects further events and drains the ones in flight.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	eb.closed = true
	eb.mu.Unlock()
	eb.inFlight.Wait()
}
