package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"session-chat-service/internal/middleware"
	"session-chat-service/internal/models"
)

// SessionService is the registry as seen by HTTP.
type SessionService interface {
	CreateSession(ctx context.Context, creatorID int, mode models.SessionMode, capacity int) (models.Session, error)
	Join(ctx context.Context, sessionID, userID int) (models.Participant, error)
	Leave(ctx context.Context, sessionID, userID int) error
	CloseSession(ctx context.Context, sessionID, userID int) error
	Session(ctx context.Context, sessionID int) (models.Session, error)
	Participants(ctx context.Context, sessionID, userID int) ([]models.Participant, error)
}

// SessionHandler manages session lifecycle endpoints.
type SessionHandler struct {
	sessions SessionService
}

// NewSessionHandler builds a SessionHandler.
func NewSessionHandler(sessions SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// CreateSession opens a session owned by the caller.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req struct {
		Mode     models.SessionMode `json:"mode"`
		Capacity int                `json:"capacity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_input"})
		return
	}

	userID, _ := middleware.UserID(c)
	session, err := h.sessions.CreateSession(c.Request.Context(), userID, req.Mode, req.Capacity)
	if err != nil {
		respondError(c, "create session", err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// GetSession returns the session and its roster to members.
func (h *SessionHandler) GetSession(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	userID, _ := middleware.UserID(c)

	participants, err := h.sessions.Participants(c.Request.Context(), sessionID, userID)
	if err != nil {
		respondError(c, "load participants", err)
		return
	}
	session, err := h.sessions.Session(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, "load session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "participants": participants})
}

// JoinSession adds the caller to the session.
func (h *SessionHandler) JoinSession(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	userID, _ := middleware.UserID(c)

	participant, err := h.sessions.Join(c.Request.Context(), sessionID, userID)
	if err != nil {
		respondError(c, "join session", err)
		return
	}
	c.JSON(http.StatusOK, participant)
}

// LeaveSession removes the caller from the session.
func (h *SessionHandler) LeaveSession(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	userID, _ := middleware.UserID(c)

	if err := h.sessions.Leave(c.Request.Context(), sessionID, userID); err != nil {
		respondError(c, "leave session", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CloseSession deactivates the session; creator only.
func (h *SessionHandler) CloseSession(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}
	userID, _ := middleware.UserID(c)

	if err := h.sessions.CloseSession(c.Request.Context(), sessionID, userID); err != nil {
		respondError(c, "close session", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func sessionParam(c *gin.Context) (int, bool) {
	sessionID, err := strconv.Atoi(c.Param("session_id"))
	if err != nil || sessionID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id", "code": "invalid_input"})
		return 0, false
	}
	return sessionID, true
}
