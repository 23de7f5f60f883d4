package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"inbox-service/internal/middleware"
	"inbox-service/internal/models"
	"inbox-service/internal/telemetry"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *string {
	if id := c.GetString(middleware.UserIDKey); id != "" {
		return &id
	}
	if header := c.GetHeader("X-User-ID"); header != "" {
		return &header
	}
	return nil
}

func emitAudit(c *gin.Context, emitter *telemetry.AuditEmitter, level, action, text string, ref models.ConversationRef) {
	emitter.Emit(c.Request.Context(), telemetry.AuditEvent{
		Level:     level,
		Action:    action,
		Text:      text,
		RequestID: requestIDFromContext(c),
		UserID:    userIDFromContext(c),
		Ref:       ref,
	})
}
