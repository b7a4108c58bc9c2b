// Package notify hands session lifecycle events to the out-of-band
// notification pipeline (push, email). Delivery itself happens elsewhere.
package notify

import (
	"context"
	"fmt"
	"time"
)

// Event kinds emitted by the registry.
const (
	SessionCreated    = "session.created"
	ParticipantJoined = "participant.joined"
	SessionClosed     = "session.closed"
)

// Event is one notification request.
type Event struct {
	Kind       string    `json:"kind"`
	SessionID  int       `json:"session_id"`
	UserID     int       `json:"user_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Describe summarises the event for logs.
func (e Event) Describe() string {
	return fmt.Sprintf("kind=%s session_id=%d user_id=%d", e.Kind, e.SessionID, e.UserID)
}

// Notifier enqueues notification events.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(ctx context.Context, event Event) error { return nil }
