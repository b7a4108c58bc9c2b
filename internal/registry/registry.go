// Package registry owns chat sessions and their memberships: who may open a
// session, who is in it, and when it is full. Every committed change is
// announced on the session's signaling channel.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"session-chat-service/internal/models"
	"session-chat-service/internal/notify"
	"session-chat-service/internal/observability"
	"session-chat-service/internal/repositories"
	"session-chat-service/internal/signaling"
	"session-chat-service/internal/telemetry"
)

// DefaultMaxAudioCapacity bounds an audio session's full mesh.
const DefaultMaxAudioCapacity = 10

// Authorizer decides who may create sessions.
type Authorizer interface {
	CanCreateSession(ctx context.Context, userID int) (bool, error)
}

// Registry coordinates session state.
type Registry struct {
	store     repositories.SessionRepository
	authz     Authorizer
	publisher signaling.Publisher
	notifier  notify.Notifier
	audit     *telemetry.AuditEmitter
	maxAudio  int
	now       func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxAudioCapacity overrides DefaultMaxAudioCapacity.
func WithMaxAudioCapacity(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxAudio = n
		}
	}
}

// WithNotifier sets the notification sink; the default drops events.
func WithNotifier(n notify.Notifier) Option {
	return func(r *Registry) { r.notifier = n }
}

// WithAudit enables audit records.
func WithAudit(a *telemetry.AuditEmitter) Option {
	return func(r *Registry) { r.audit = a }
}

// New builds a Registry.
func New(store repositories.SessionRepository, authz Authorizer, publisher signaling.Publisher, opts ...Option) *Registry {
	r := &Registry{
		store:     store,
		authz:     authz,
		publisher: publisher,
		notifier:  notify.Nop{},
		maxAudio:  DefaultMaxAudioCapacity,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateSession opens a session with creatorID as its first participant.
func (r *Registry) CreateSession(ctx context.Context, creatorID int, mode models.SessionMode, capacity int) (session models.Session, err error) {
	defer func() { observability.ObserveRegistryOp("create", err) }()

	allowed, err := r.authz.CanCreateSession(ctx, creatorID)
	if err != nil {
		return models.Session{}, fmt.Errorf("authorize: %w", err)
	}
	if !allowed {
		return models.Session{}, models.ErrForbidden
	}
	if !mode.Valid() {
		return models.Session{}, models.ErrInvalidMode
	}
	if capacity < 1 || (mode == models.SessionModeAudio && capacity > r.maxAudio) {
		return models.Session{}, models.ErrInvalidCapacity
	}

	session, err = r.store.CreateSession(ctx, creatorID, mode, capacity)
	if err != nil {
		return models.Session{}, persistence(err)
	}

	log.Printf("session created id=%d creator=%d mode=%s capacity=%d", session.ID, creatorID, mode, capacity)
	r.notify(ctx, notify.SessionCreated, session.ID, creatorID)
	r.audit.Emit(ctx, telemetry.AuditRecord{Action: "session.create", SessionID: session.ID, UserID: creatorID, Text: "session created"})
	return session, nil
}

// Join adds userID to the session. Joining a session one already belongs to
// returns the existing membership and announces nothing.
func (r *Registry) Join(ctx context.Context, sessionID, userID int) (participant models.Participant, err error) {
	defer func() { observability.ObserveRegistryOp("join", err) }()

	participant, created, err := r.store.AddParticipant(ctx, sessionID, userID, models.RoleParticipant)
	if err != nil {
		return models.Participant{}, persistence(err)
	}
	if !created {
		return participant, nil
	}

	count := r.count(ctx, sessionID)
	log.Printf("participant joined session=%d user=%d count=%d", sessionID, userID, count)
	r.publish(ctx, models.Envelope{
		Type:      models.EnvelopeParticipantJoined,
		From:      userID,
		SessionID: sessionID,
		Data:      models.ParticipantPayload{UserID: userID, Role: participant.Role, Count: count},
	})
	r.notify(ctx, notify.ParticipantJoined, sessionID, userID)
	r.audit.Emit(ctx, telemetry.AuditRecord{Action: "session.join", SessionID: sessionID, UserID: userID, Text: "participant joined"})
	return participant, nil
}

// Leave removes userID from the session. Leaving when not a member is a no-op.
func (r *Registry) Leave(ctx context.Context, sessionID, userID int) (err error) {
	defer func() { observability.ObserveRegistryOp("leave", err) }()

	participant, err := r.store.GetParticipant(ctx, sessionID, userID)
	if errors.Is(err, repositories.ErrParticipantNotFound) {
		return nil
	}
	if err != nil {
		return persistence(err)
	}

	removed, err := r.store.RemoveParticipant(ctx, sessionID, userID)
	if err != nil {
		return persistence(err)
	}
	if !removed {
		return nil
	}

	count := r.count(ctx, sessionID)
	log.Printf("participant left session=%d user=%d count=%d", sessionID, userID, count)
	r.publish(ctx, models.Envelope{
		Type:      models.EnvelopeParticipantLeft,
		From:      userID,
		SessionID: sessionID,
		Data:      models.ParticipantPayload{UserID: userID, Role: participant.Role, Count: count},
	})
	r.audit.Emit(ctx, telemetry.AuditRecord{Action: "session.leave", SessionID: sessionID, UserID: userID, Text: "participant left"})
	return nil
}

// IsParticipant reports current membership.
func (r *Registry) IsParticipant(ctx context.Context, sessionID, userID int) (bool, error) {
	ok, err := r.store.IsParticipant(ctx, sessionID, userID)
	if err != nil {
		return false, persistence(err)
	}
	return ok, nil
}

// CloseSession deactivates a session for good. Only its creator may close it;
// closing an already closed session is a no-op.
func (r *Registry) CloseSession(ctx context.Context, sessionID, userID int) (err error) {
	defer func() { observability.ObserveRegistryOp("close", err) }()

	session, err := r.store.FindSession(ctx, sessionID)
	if err != nil {
		return persistence(err)
	}
	if session.CreatorID != userID {
		return models.ErrForbidden
	}

	closed, err := r.store.CloseSession(ctx, sessionID)
	if err != nil {
		return persistence(err)
	}
	if !closed {
		return nil
	}

	log.Printf("session closed id=%d by=%d", sessionID, userID)
	r.publish(ctx, models.Envelope{Type: models.EnvelopeSessionClosed, From: userID, SessionID: sessionID})
	r.notify(ctx, notify.SessionClosed, sessionID, userID)
	r.audit.Emit(ctx, telemetry.AuditRecord{Action: "session.close", SessionID: sessionID, UserID: userID, Text: "session closed"})
	return nil
}

// Session fetches a session by id.
func (r *Registry) Session(ctx context.Context, sessionID int) (models.Session, error) {
	session, err := r.store.FindSession(ctx, sessionID)
	if err != nil {
		return models.Session{}, persistence(err)
	}
	return session, nil
}

// Participants lists the roster. Only members may see it.
func (r *Registry) Participants(ctx context.Context, sessionID, userID int) ([]models.Participant, error) {
	member, err := r.IsParticipant(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, models.ErrNotAParticipant
	}
	list, err := r.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, persistence(err)
	}
	return list, nil
}

func (r *Registry) count(ctx context.Context, sessionID int) int {
	n, err := r.store.CountParticipants(ctx, sessionID)
	if err != nil {
		log.Printf("participant count failed session=%d: %v", sessionID, err)
		return 0
	}
	return n
}

// publish announces a committed change. Failures are logged only.
func (r *Registry) publish(ctx context.Context, env models.Envelope) {
	if err := r.publisher.Publish(ctx, env); err != nil {
		observability.IncLivePublishFailure(string(env.Type))
		log.Printf("registry publish failed type=%s session=%d: %v", env.Type, env.SessionID, err)
	}
}

func (r *Registry) notify(ctx context.Context, kind string, sessionID, userID int) {
	event := notify.Event{Kind: kind, SessionID: sessionID, UserID: userID, OccurredAt: r.now().UTC()}
	if err := r.notifier.Notify(ctx, event); err != nil {
		log.Printf("notify failed kind=%s session=%d: %v", kind, sessionID, err)
	}
}

// persistence leaves domain errors alone and tags everything else as a store failure.
func persistence(err error) error {
	switch {
	case errors.Is(err, models.ErrSessionNotFound),
		errors.Is(err, models.ErrSessionInactive),
		errors.Is(err, models.ErrSessionFull),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrPersistence, err)
}
