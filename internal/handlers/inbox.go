package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"inbox-service/internal/inbox"
	"inbox-service/internal/middleware"
	"inbox-service/internal/models"
	"inbox-service/internal/outbox"
	"inbox-service/internal/telemetry"
)

// InboxHandler exposes the caller's inbox session over HTTP.
type InboxHandler struct {
	registry *inbox.Registry
	audit    *telemetry.AuditEmitter
}

// NewInboxHandler builds an InboxHandler. audit may be nil.
func NewInboxHandler(registry *inbox.Registry, audit *telemetry.AuditEmitter) *InboxHandler {
	return &InboxHandler{registry: registry, audit: audit}
}

// Register mounts the inbox routes on r. Every route needs an identity.
func (h *InboxHandler) Register(r gin.IRouter) {
	g := r.Group("/inbox", middleware.Identity())
	g.GET("/conversations", h.ListConversations)
	g.POST("/refresh", h.RefreshAll)
	g.POST("/refresh/:kind", h.Refresh)
	g.GET("/unread", h.Unread)
	g.POST("/select", h.Select)
	g.POST("/back", h.Back)
	g.POST("/close", h.Close)
	g.GET("/messages", h.ListMessages)
	g.POST("/messages", h.PostMessage)
	g.POST("/messages/:message_id/retry", h.RetryMessage)
	g.DELETE("/messages/:message_id", h.DiscardMessage)
	g.GET("/typing", h.Typing)
	g.POST("/typing", h.SetTyping)

	r.GET("/presence/:user_id", middleware.Identity(), h.Presence)
}

func (h *InboxHandler) session(c *gin.Context) *inbox.Session {
	return h.registry.GetOrCreate(c.GetString(middleware.UserIDKey))
}

// ListConversations returns one family's conversations, or the merged inbox when
// no kind is given.
func (h *InboxHandler) ListConversations(c *gin.Context) {
	kind := models.ConversationKind(c.Query("kind"))
	if kind != models.KindNone && !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid kind"})
		return
	}
	s := h.session(c)
	c.JSON(http.StatusOK, gin.H{
		"conversations": s.Conversations(kind),
		"selection":     s.Selection(),
	})
}

// Refresh reloads one conversation source.
func (h *InboxHandler) Refresh(c *gin.Context) {
	kind := models.ConversationKind(c.Param("kind"))
	s := h.session(c)
	list, err := s.Refresh(c.Request.Context(), kind)
	if errors.Is(err, inbox.ErrUnknownKind) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid kind"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to refresh conversations", "unread": s.Unread()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list.Items, "unread": s.Unread()})
}

// RefreshAll reloads every configured source. Sources that fail keep their previous
// values; the response then carries 207 with the partial result.
func (h *InboxHandler) RefreshAll(c *gin.Context) {
	s := h.session(c)
	status := http.StatusOK
	resp := gin.H{}
	if err := s.RefreshAll(c.Request.Context()); err != nil {
		status = http.StatusMultiStatus
		resp["error"] = "some sources failed to refresh"
	}
	resp["conversations"] = s.Conversations(models.KindNone)
	resp["unread"] = s.Unread()
	c.JSON(status, resp)
}

func (h *InboxHandler) Unread(c *gin.Context) {
	c.JSON(http.StatusOK, h.session(c).Unread())
}

// Select makes a conversation active.
func (h *InboxHandler) Select(c *gin.Context) {
	var req struct {
		Ref string `json:"ref" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ref, err := models.ParseConversationRef(req.Ref)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s := h.session(c)
	changed := s.Select(ref)
	c.JSON(http.StatusOK, gin.H{"selection": s.Selection(), "changed": changed})
}

func (h *InboxHandler) Back(c *gin.Context) {
	s := h.session(c)
	changed := s.Back()
	c.JSON(http.StatusOK, gin.H{"selection": s.Selection(), "changed": changed})
}

func (h *InboxHandler) Close(c *gin.Context) {
	s := h.session(c)
	changed := s.ClosePanel()
	c.JSON(http.StatusOK, gin.H{"selection": s.Selection(), "changed": changed})
}

// ListMessages returns the active conversation's messages with delivery status.
func (h *InboxHandler) ListMessages(c *gin.Context) {
	views, err := h.session(c).Messages(c.Request.Context())
	if errors.Is(err, inbox.ErrNoActiveConversation) {
		c.JSON(http.StatusConflict, gin.H{"error": "no conversation selected"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": views})
}

// PostMessage sends to the active conversation. A failed send answers 502 with the
// kept local message so the client can offer a retry.
func (h *InboxHandler) PostMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s := h.session(c)
	view, err := s.Send(c.Request.Context(), req.Content)
	switch {
	case errors.Is(err, inbox.ErrNoActiveConversation):
		c.JSON(http.StatusConflict, gin.H{"error": "no conversation selected"})
	case errors.Is(err, outbox.ErrSendFailed):
		emitAudit(c, h.audit, "WARN", telemetry.ActionSendFailed, fmt.Sprintf("message %s could not be sent", view.ID), view.Ref)
		c.JSON(http.StatusBadGateway, gin.H{"error": "message could not be sent", "message": view, "retry": true})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not send message"})
	default:
		c.JSON(http.StatusCreated, gin.H{"message": view})
	}
}

// RetryMessage resends a failed local message.
func (h *InboxHandler) RetryMessage(c *gin.Context) {
	view, err := h.session(c).Retry(c.Request.Context(), c.Param("message_id"))
	switch {
	case errors.Is(err, inbox.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	case errors.Is(err, outbox.ErrStillSending):
		c.JSON(http.StatusConflict, gin.H{"error": "message is still sending"})
	case errors.Is(err, outbox.ErrSendFailed):
		emitAudit(c, h.audit, "WARN", telemetry.ActionRetry, fmt.Sprintf("retry of %s failed", c.Param("message_id")), view.Ref)
		c.JSON(http.StatusBadGateway, gin.H{"error": "message could not be sent", "message": view, "retry": true})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not resend message"})
	default:
		emitAudit(c, h.audit, "INFO", telemetry.ActionRetry, fmt.Sprintf("retry of %s delivered as %s", c.Param("message_id"), view.ID), view.Ref)
		c.JSON(http.StatusOK, gin.H{"message": view})
	}
}

// DiscardMessage drops a failed local message.
func (h *InboxHandler) DiscardMessage(c *gin.Context) {
	s := h.session(c)
	if err := s.Discard(c.Param("message_id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	emitAudit(c, h.audit, "INFO", telemetry.ActionDiscard, fmt.Sprintf("message %s discarded", c.Param("message_id")), s.Selection())
	c.Status(http.StatusNoContent)
}

// Typing returns who is typing in the active conversation.
func (h *InboxHandler) Typing(c *gin.Context) {
	s := h.session(c)
	c.JSON(http.StatusOK, gin.H{"ref": s.Selection(), "users": s.Typing()})
}

// SetTyping reports local input activity; typing=false ends the signal.
func (h *InboxHandler) SetTyping(c *gin.Context) {
	var req struct {
		Typing *bool `json:"typing" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s := h.session(c)
	if *req.Typing {
		s.Input()
	} else {
		s.TypingSent()
	}
	c.Status(http.StatusNoContent)
}

// Presence derives another user's presence bucket. Lookup failures read as offline.
func (h *InboxHandler) Presence(c *gin.Context) {
	rec, status := h.session(c).Presence(c.Request.Context(), c.Param("user_id"))
	resp := gin.H{"user_id": c.Param("user_id"), "status": status}
	if !rec.LastSeenAt.IsZero() {
		resp["last_seen_at"] = rec.LastSeenAt
	}
	c.JSON(http.StatusOK, resp)
}
