// Package chat stores session messages and fans them out to live members.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"session-chat-service/internal/models"
	"session-chat-service/internal/observability"
	"session-chat-service/internal/repositories"
	"session-chat-service/internal/signaling"
	"session-chat-service/internal/telemetry"
)

// LiveWarning is reported when a message was stored but its broadcast failed.
const LiveWarning = "message sent, may not appear live"

// SendResult is the outcome of a stored message.
type SendResult struct {
	Message models.Message `json:"message"`
	// Live is false when the broadcast failed; the message is stored either way.
	Live    bool   `json:"live"`
	Warning string `json:"warning,omitempty"`
}

// Sender persists messages before broadcasting them.
type Sender struct {
	sessions  repositories.SessionRepository
	messages  repositories.SessionMessageRepository
	publisher signaling.Publisher
	audit     *telemetry.AuditEmitter
}

// NewSender builds a Sender. audit may be nil.
func NewSender(sessions repositories.SessionRepository, messages repositories.SessionMessageRepository, publisher signaling.Publisher, audit *telemetry.AuditEmitter) *Sender {
	return &Sender{sessions: sessions, messages: messages, publisher: publisher, audit: audit}
}

// SendMessage stores a message from userID and broadcasts it as message.sent.
func (s *Sender) SendMessage(ctx context.Context, sessionID, userID int, kind models.MessageKind, body string) (SendResult, error) {
	author, err := s.member(ctx, sessionID, userID)
	if err != nil {
		return SendResult{}, err
	}

	session, err := s.sessions.FindSession(ctx, sessionID)
	if err != nil {
		return SendResult{}, storeErr(err)
	}
	if !session.Active {
		return SendResult{}, models.ErrSessionInactive
	}
	if !kind.Valid() || strings.TrimSpace(body) == "" {
		return SendResult{}, models.ErrInvalidMessage
	}

	msg, err := s.messages.CreateMessage(ctx, sessionID, userID, kind, body)
	if err != nil {
		return SendResult{}, storeErr(err)
	}
	observability.IncMessageSent(string(kind))

	result := SendResult{Message: msg, Live: true}
	err = s.publisher.Publish(ctx, models.Envelope{
		Type:      models.EnvelopeMessageSent,
		From:      userID,
		SessionID: sessionID,
		Data: models.MessageSentPayload{
			Message: msg,
			Author:  models.AuthorInfo{ID: userID, Role: author.Role},
		},
	})
	if err != nil {
		observability.IncLivePublishFailure(string(models.EnvelopeMessageSent))
		log.Printf("message broadcast failed session=%d message=%d: %v", sessionID, msg.ID, err)
		result.Live = false
		result.Warning = LiveWarning
	}

	s.audit.Emit(ctx, telemetry.AuditRecord{
		Action:    "message.send",
		SessionID: sessionID,
		UserID:    userID,
		Text:      fmt.Sprintf("message %d kind=%s live=%t", msg.ID, kind, result.Live),
	})
	return result, nil
}

// Messages lists a session's messages in creation order. Only members may read.
func (s *Sender) Messages(ctx context.Context, sessionID, userID int) ([]models.Message, error) {
	if _, err := s.member(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, storeErr(err)
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}

func (s *Sender) member(ctx context.Context, sessionID, userID int) (models.Participant, error) {
	p, err := s.sessions.GetParticipant(ctx, sessionID, userID)
	if errors.Is(err, repositories.ErrParticipantNotFound) {
		return models.Participant{}, models.ErrNotAParticipant
	}
	if err != nil {
		return models.Participant{}, storeErr(err)
	}
	return p, nil
}

func storeErr(err error) error {
	if errors.Is(err, models.ErrSessionNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrPersistence, err)
}
