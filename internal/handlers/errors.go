package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"session-chat-service/internal/models"
)

// respondError maps domain errors to HTTP responses. The code field lets
// clients tell a full session apart from a lost membership.
func respondError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidCapacity),
		errors.Is(err, models.ErrInvalidMode),
		errors.Is(err, models.ErrInvalidMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_input"})
	case errors.Is(err, models.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "forbidden"})
	case errors.Is(err, models.ErrNotAParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "not_a_participant"})
	case errors.Is(err, models.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "not_found"})
	case errors.Is(err, models.ErrSessionFull):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "session_full"})
	case errors.Is(err, models.ErrSessionInactive):
		c.JSON(http.StatusGone, gin.H{"error": err.Error(), "code": "session_inactive"})
	default:
		log.Printf("%s failed request_id=%s: %v", op, requestIDFromContext(c), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + op})
	}
}
