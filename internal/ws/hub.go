package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"inbox-service/internal/adapters"
	"inbox-service/internal/logging"
	"inbox-service/internal/models"
	"inbox-service/internal/observability"
)

const writeWait = 10 * time.Second

// wsConn is the part of *websocket.Conn the hub writes through.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type client struct {
	conn wsConn
	info ConnInfo

	// gorilla connections allow one concurrent writer.
	writeMu sync.Mutex
}

func (c *client) write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub maintains the live inbox connections of every user.
type Hub struct {
	mu    sync.RWMutex
	users map[string]map[*client]struct{}
	log   zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		users: make(map[string]map[*client]struct{}),
		log:   logging.Component("ws"),
	}
}

// Add registers a connection for its user.
func (h *Hub) Add(conn wsConn, info ConnInfo) *client {
	c := &client{conn: conn, info: info}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.users[info.UserID]; !ok {
		h.users[info.UserID] = make(map[*client]struct{})
	}
	h.users[info.UserID][c] = struct{}{}
	return c
}

// Remove drops a connection and reports how many the user still has.
func (h *Hub) Remove(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.users[c.info.UserID]
	if !ok {
		return 0
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.users, c.info.UserID)
		return 0
	}
	return len(conns)
}

// Count returns the user's open connections.
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Push sends event to every connection of userID. Broken connections are closed
// and dropped.
func (h *Hub) Push(userID string, event models.InboxEvent) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.users[userID]))
	for c := range h.users[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Str("type", event.Type).Msg("encode inbox event")
		return
	}
	for _, c := range targets {
		if err := c.write(payload); err != nil {
			h.log.Warn().Err(err).Str("user_id", userID).Str("conn_id", c.info.ConnID).Msg("websocket write error")
			_ = c.conn.Close()
			h.Remove(c)
			h.publishWSError(c.info, err)
		}
	}
}

func (h *Hub) publishWSError(info ConnInfo, err error) {
	publishWSEvent(context.Background(), info, "ws_error", err.Error())
}

func publishWSEvent(ctx context.Context, info ConnInfo, event, reason string) {
	durationMS := int64(0)
	if event != "ws_connect" {
		durationMS = time.Since(info.ConnectedAt).Milliseconds()
	}
	_ = observability.PublishEvent(ctx, observability.RoutingWSEvents, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        "inbox",
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": durationMS,
				"reason":      reason,
			},
			"identity": info.identity(),
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
	observability.IncWSEvent(event)
}

var _ adapters.EventSink = (*Hub)(nil)
