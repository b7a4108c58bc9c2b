package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"session-chat-service/internal/middleware"
	"session-chat-service/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRouter, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		userID, _ := middleware.UserID(c)
		emitter.Emit(c.Request.Context(), telemetry.AuditRecord{
			Action:    "debug.audit_test",
			UserID:    userID,
			RequestID: requestIDFromContext(c),
			Text:      "audit test",
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
