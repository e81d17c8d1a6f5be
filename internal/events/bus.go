package events

import (
	"log/slog"
	"sync"
	"time"
)

// Event represents something that happened in the system.
type Event struct {
	Name    string                 `json:"name"`    // e.g. "operation.log", "container.status"
	Payload map[string]interface{} `json:"payload"` // event-specific data
	Channel string                 `json:"channel"` // optional scope, e.g. "stack:3"; empty = global
	Time    time.Time              `json:"time"`
}

// Handler is a callback that processes an event.
type Handler func(event Event)

// Bus is an in-memory publish/subscribe event bus. It is the transient
// counterpart of the durable operation log: streaming operations push each
// output line and a terminal completion event through it.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *slog.Logger
}

// NewBus creates a new Bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for the given event name.
// Use "*" to subscribe to all events.
func (b *Bus) Subscribe(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], handler)
}

// Publish dispatches an event to all matching subscribers. Handlers are
// invoked synchronously in registration order, so lines published for a
// single operation reach every subscriber in the order produced.
// A panicking handler is recovered and logged without affecting others.
func (b *Bus) Publish(name string, payload map[string]interface{}, channel string) {
	event := Event{
		Name:    name,
		Payload: payload,
		Channel: channel,
		Time:    time.Now(),
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[name])+len(b.handlers["*"]))
	handlers = append(handlers, b.handlers[name]...)
	handlers = append(handlers, b.handlers["*"]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						"event", name,
						"channel", channel,
						"panic", r,
					)
				}
			}()
			h(event)
		}()
	}
}
