package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"session-chat-service/internal/middleware"
	"session-chat-service/internal/models"
	"session-chat-service/internal/observability"
)

// Membership answers the access questions asked at handshake time.
type Membership interface {
	IsParticipant(ctx context.Context, sessionID, userID int) (bool, error)
	Session(ctx context.Context, sessionID int) (models.Session, error)
}

// SessionWebSocketHandler serves the signaling channel of one session.
type SessionWebSocketHandler struct {
	hub      *Hub
	sessions Membership
	auth     middleware.TokenValidator
}

// NewSessionWebSocketHandler constructs a SessionWebSocketHandler.
func NewSessionWebSocketHandler(hub *Hub, sessions Membership, auth middleware.TokenValidator) *SessionWebSocketHandler {
	return &SessionWebSocketHandler{hub: hub, sessions: sessions, auth: auth}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates, checks membership, upgrades and serves the
// connection until it closes.
func (h *SessionWebSocketHandler) Handle(c *gin.Context) {
	sessionID, err := strconv.Atoi(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	ctx, span := otel.Tracer("session-chat-service/ws").Start(c.Request.Context(), "ws.handshake",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.Int("session.id", sessionID)),
	)
	c.Request = c.Request.WithContext(ctx)

	userID, ok := h.authenticate(c)
	if !ok {
		span.End()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	member, err := h.sessions.IsParticipant(ctx, sessionID, userID)
	if err != nil {
		span.End()
		log.Printf("ws membership check failed session=%d user=%d: %v", sessionID, userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check membership"})
		return
	}
	if !member {
		span.End()
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant", "code": "not_a_participant"})
		return
	}
	session, err := h.sessions.Session(ctx, sessionID)
	if err != nil {
		span.End()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return
	}
	if !session.Active {
		span.End()
		c.JSON(http.StatusGone, gin.H{"error": "session is closed", "code": "session_inactive"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.End()
		return
	}
	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	span.End()

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	client := newClient(conn, sessionID, info)
	if err := h.hub.Register(ctx, client); err != nil {
		log.Printf("ws register failed session=%d: %v", sessionID, err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "signaling unavailable"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	// The request context ends with the handler; lifecycle events outlive it.
	eventCtx := context.WithoutCancel(ctx)
	observability.IncWSActive()
	h.publishEvent(eventCtx, client, "ws_connect", "")

	go client.writeLoop()
	err = client.readLoop(func(raw []byte) { h.relay(eventCtx, client, raw) })

	reason := err.Error()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		h.publishEvent(eventCtx, client, "ws_error", reason)
	}
	h.hub.Unregister(client)
	client.Close()
	observability.DecWSActive()
	h.publishEvent(eventCtx, client, "ws_disconnect", reason)
}

func (h *SessionWebSocketHandler) authenticate(c *gin.Context) (int, bool) {
	token, ok := middleware.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	if token == "" {
		return 0, false
	}
	userID, err := h.auth.ValidateToken(c.Request.Context(), token)
	if err != nil || userID == 0 {
		return 0, false
	}
	return userID, true
}

// relay stamps a client frame with its authenticated origin and publishes it.
func (h *SessionWebSocketHandler) relay(ctx context.Context, client *Client, raw []byte) {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("ws rejected frame session=%d conn_id=%s: %v", client.sessionID, client.info.ConnID, err)
		observability.IncEnvelope("rejected", "invalid")
		return
	}
	if !env.Type.ClientSignal() {
		log.Printf("ws rejected server-only type=%s session=%d conn_id=%s", env.Type, client.sessionID, client.info.ConnID)
		observability.IncEnvelope("rejected", string(env.Type))
		return
	}
	if client.isRevoked() {
		observability.IncEnvelope("rejected", "revoked")
		return
	}
	// Entering the audio mesh re-checks membership; a leave may not have
	// reached this node yet.
	if env.Type == models.EnvelopeJoin {
		admitted, err := h.admitted(ctx, client)
		if err != nil {
			log.Printf("ws membership recheck failed session=%d user=%d: %v", client.sessionID, client.info.UserID, err)
			observability.IncEnvelope("rejected", string(env.Type))
			return
		}
		if !admitted {
			client.revoke("membership ended")
			observability.IncEnvelope("rejected", "revoked")
			return
		}
	}

	env.From = client.info.UserID
	env.SessionID = client.sessionID
	switch env.Type {
	case models.EnvelopeJoin:
		client.audio.Store(true)
	case models.EnvelopeLeave:
		client.audio.Store(false)
	}

	if err := h.hub.Publish(ctx, env); err != nil {
		log.Printf("ws relay failed type=%s session=%d: %v", env.Type, client.sessionID, err)
		return
	}
	observability.IncEnvelope("in", string(env.Type))
}

// admitted reports whether client is still a member of an active session.
func (h *SessionWebSocketHandler) admitted(ctx context.Context, client *Client) (bool, error) {
	member, err := h.sessions.IsParticipant(ctx, client.sessionID, client.info.UserID)
	if err != nil || !member {
		return false, err
	}
	session, err := h.sessions.Session(ctx, client.sessionID)
	if err != nil {
		return false, err
	}
	return session.Active, nil
}

func (h *SessionWebSocketHandler) publishEvent(ctx context.Context, client *Client, event, reason string) {
	var duration int64
	if event != "ws_connect" {
		duration = time.Since(client.info.ConnectedAt).Milliseconds()
	}
	observability.PublishWSEvent(ctx, observability.WSEvent{
		SessionID:  client.sessionID,
		Event:      event,
		ConnID:     client.info.ConnID,
		DurationMS: duration,
		Reason:     reason,
		Identity: observability.Identity{
			UserID:   client.info.UserID,
			DeviceID: client.info.DeviceID,
			IP:       client.info.IP,
		},
		At: time.Now().UTC(),
	}, client.info.RequestID, client.info.TraceID)
}
