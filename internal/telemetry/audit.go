package telemetry

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// AuditEmitter publishes audit records for session state changes.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	now         func() time.Time
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level     string `json:"level"`
	Action    string `json:"action"`
	SessionID int    `json:"session_id,omitempty"`
	Text      string `json:"text"`
}

// AuditRecord is what callers report; the emitter adds the envelope fields.
type AuditRecord struct {
	Level     string
	Action    string
	SessionID int
	UserID    int
	RequestID string
	Text      string
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		now:         time.Now,
	}
}

// Describe summarises the envelope for logs.
func (e AuditEnvelope) Describe() string {
	return fmt.Sprintf("event_type=%s action=%s session_id=%d", e.EventType, e.Payload.Action, e.Payload.SessionID)
}

// Emit publishes rec. A nil emitter is valid and does nothing.
func (e *AuditEmitter) Emit(ctx context.Context, rec AuditRecord) {
	if e == nil || e.publisher == nil {
		return
	}

	var userID *string
	if rec.UserID != 0 {
		id := strconv.Itoa(rec.UserID)
		userID = &id
	}
	level := rec.Level
	if level == "" {
		level = "info"
	}

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     rec.RequestID,
		UserID:        userID,
		Payload: AuditPayload{
			Level:     level,
			Action:    rec.Action,
			SessionID: rec.SessionID,
			Text:      rec.Text,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		log.Printf("audit publish failed action=%s session_id=%d: %v", rec.Action, rec.SessionID, err)
	}
}
