package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"inbox-service/internal/observability"
)

// UserIDKey is the gin context key holding the caller's user id.
const UserIDKey = "userID"

// Identity reads the caller identity forwarded by the gateway. Requests without
// one are rejected.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := observability.UserIDFromRequest(c.Request)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing user id"})
			return
		}
		c.Set(UserIDKey, userID)
		c.Next()
	}
}
