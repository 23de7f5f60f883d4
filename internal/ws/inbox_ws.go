package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"inbox-service/internal/inbox"
	"inbox-service/internal/logging"
	"inbox-service/internal/models"
	"inbox-service/internal/observability"
)

const touchInterval = 30 * time.Second

// PresenceToucher records user activity.
type PresenceToucher interface {
	Touch(ctx context.Context, userID string) error
}

// DeliveryMarker stamps pending messages as delivered once the user is connected.
type DeliveryMarker interface {
	MarkDelivered(ctx context.Context, userID string) (int64, error)
}

// Frame types accepted from clients.
const (
	FrameInput  = "input"
	FrameSent   = "sent"
	FrameSelect = "select"
	FrameBack   = "back"
	FramePing   = "ping"
)

type clientFrame struct {
	Type string `json:"type"`
	Ref  string `json:"ref,omitempty"`
}

// InboxWebSocketHandler streams inbox events to a user and takes typing and
// selection frames back.
type InboxWebSocketHandler struct {
	hub       *Hub
	registry  *inbox.Registry
	presence  PresenceToucher
	delivered DeliveryMarker
}

// NewInboxWebSocketHandler constructs the handler. presence and delivered may be nil.
func NewInboxWebSocketHandler(hub *Hub, registry *inbox.Registry, presence PresenceToucher, delivered DeliveryMarker) *InboxWebSocketHandler {
	return &InboxWebSocketHandler{hub: hub, registry: registry, presence: presence, delivered: delivered}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and registers the client with the hub.
func (h *InboxWebSocketHandler) Handle(c *gin.Context) {
	userID := observability.UserIDFromRequest(c.Request)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user id"})
		return
	}

	ctx, span := otel.Tracer("inbox-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	cl := h.hub.Add(conn, info)
	session := h.registry.GetOrCreate(userID)

	observability.IncWSActive()
	publishWSEvent(ctx, info, "ws_connect", "")

	h.touch(userID)
	h.markDelivered(userID)
	summary := session.Unread()
	selected := session.Selection()
	h.hub.Push(userID, models.InboxEvent{Type: models.EventUnread, Unread: &summary})
	h.hub.Push(userID, models.InboxEvent{Type: models.EventSelection, Selection: &selected})

	go h.readLoop(conn, cl, session)
}

func (h *InboxWebSocketHandler) readLoop(conn *websocket.Conn, cl *client, session *inbox.Session) {
	log := logging.WithUser("ws", cl.info.UserID)
	var closeReason string
	lastTouch := time.Now()
	defer func() {
		remaining := h.hub.Remove(cl)
		if remaining == 0 {
			h.registry.Remove(cl.info.UserID)
		}
		observability.DecWSActive()
		publishWSEvent(context.Background(), cl.info, "ws_disconnect", closeReason)
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				publishWSEvent(context.Background(), cl.info, "ws_error", closeReason)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Debug().Err(err).Msg("ignoring malformed frame")
			continue
		}
		h.apply(session, frame)

		if time.Since(lastTouch) >= touchInterval {
			lastTouch = time.Now()
			h.touch(cl.info.UserID)
		}
	}
}

func (h *InboxWebSocketHandler) apply(session *inbox.Session, frame clientFrame) {
	switch frame.Type {
	case FrameInput:
		session.Input()
	case FrameSent:
		session.TypingSent()
	case FrameSelect:
		ref, err := models.ParseConversationRef(frame.Ref)
		if err != nil {
			return
		}
		session.Select(ref)
	case FrameBack:
		session.Back()
	case FramePing:
		h.touch(session.UserID())
	}
}

func (h *InboxWebSocketHandler) touch(userID string) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.presence.Touch(ctx, userID); err != nil {
		log := logging.WithUser("ws", userID)
		log.Debug().Err(err).Msg("presence touch failed")
	}
}

func (h *InboxWebSocketHandler) markDelivered(userID string) {
	if h.delivered == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := h.delivered.MarkDelivered(ctx, userID); err != nil {
			log := logging.WithUser("ws", userID)
			log.Debug().Err(err).Msg("mark delivered failed")
		}
	}()
}
