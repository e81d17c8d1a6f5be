package handler

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/miniman-dev/miniman/internal/events"
)

// EventsHandler fans bus events out to WebSocket subscribers. Each client
// may filter on a single channel; an empty filter receives everything.
type EventsHandler struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]string // conn → channel filter
}

// NewEventsHandler creates an EventsHandler subscribed to every bus event.
func NewEventsHandler(bus *events.Bus, logger *slog.Logger) *EventsHandler {
	h := &EventsHandler{
		logger:  logger,
		clients: make(map[*websocket.Conn]string),
	}
	bus.Subscribe("*", h.broadcast)
	return h
}

// Stream upgrades the request and subscribes the client until it hangs up.
func (h *EventsHandler) Stream(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	channel := c.Query("channel")

	h.mu.Lock()
	h.clients[conn] = channel
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	// block until the client disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventsHandler) broadcast(e events.Event) {
	data, err := json.Marshal(gin.H{
		"event":   e.Name,
		"channel": e.Channel,
		"payload": e.Payload,
		"time":    e.Time,
	})
	if err != nil {
		h.logger.Error("failed to encode event", "event", e.Name, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, filter := range h.clients {
		if filter != "" && filter != e.Channel {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}
