package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"session-chat-service/internal/chat"
	"session-chat-service/internal/middleware"
	"session-chat-service/internal/models"
)

// MessageService stores and lists session messages.
type MessageService interface {
	SendMessage(ctx context.Context, sessionID, userID int, kind models.MessageKind, body string) (chat.SendResult, error)
	Messages(ctx context.Context, sessionID, userID int) ([]models.Message, error)
}

// MessageHandler manages session chat endpoints.
type MessageHandler struct {
	messages MessageService
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(messages MessageService) *MessageHandler {
	return &MessageHandler{messages: messages}
}

// GetMessages returns the session history to members.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	userID, _ := middleware.UserID(c)

	msgs, err := h.messages.Messages(c.Request.Context(), sessionID, userID)
	if err != nil {
		respondError(c, "load messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage stores a message and reports whether it went out live.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}

	var req struct {
		Kind models.MessageKind `json:"kind"`
		Body string             `json:"body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_input"})
		return
	}
	if req.Kind == "" {
		req.Kind = models.MessageKindText
	}

	userID, _ := middleware.UserID(c)
	result, err := h.messages.SendMessage(c.Request.Context(), sessionID, userID, req.Kind, req.Body)
	if err != nil {
		respondError(c, "send message", err)
		return
	}
	c.JSON(http.StatusCreated, result)
}
