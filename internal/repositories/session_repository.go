package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"session-chat-service/internal/models"
)

var ErrParticipantNotFound = errors.New("participant not found")

// SessionRepository abstracts session and membership persistence.
type SessionRepository interface {
	CreateSession(ctx context.Context, creatorID int, mode models.SessionMode, capacity int) (models.Session, error)
	FindSession(ctx context.Context, sessionID int) (models.Session, error)
	CloseSession(ctx context.Context, sessionID int) (bool, error)
	AddParticipant(ctx context.Context, sessionID, userID int, role models.ParticipantRole) (models.Participant, bool, error)
	RemoveParticipant(ctx context.Context, sessionID, userID int) (bool, error)
	CountParticipants(ctx context.Context, sessionID int) (int, error)
	IsParticipant(ctx context.Context, sessionID, userID int) (bool, error)
	GetParticipant(ctx context.Context, sessionID, userID int) (models.Participant, error)
	ListParticipants(ctx context.Context, sessionID int) ([]models.Participant, error)
}

// SessionRepo is a sqlx implementation of SessionRepository.
type SessionRepo struct {
	db *sqlx.DB
}

// NewSessionRepo constructs a SessionRepo.
func NewSessionRepo(db *sqlx.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

const sessionColumns = `id, creator_id, mode, capacity, active, created_at, closed_at`

// CreateSession creates a session and its creator membership atomically.
func (r *SessionRepo) CreateSession(ctx context.Context, creatorID int, mode models.SessionMode, capacity int) (models.Session, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Session{}, err
	}
	defer tx.Rollback()

	var session models.Session
	if err := tx.GetContext(ctx, &session, `INSERT INTO chat_sessions (creator_id, mode, capacity) VALUES ($1, $2, $3) RETURNING `+sessionColumns, creatorID, mode, capacity); err != nil {
		return models.Session{}, err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO session_participants (session_id, user_id, role) VALUES ($1, $2, $3)`, session.ID, creatorID, models.RoleCreator); err != nil {
		return models.Session{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Session{}, err
	}
	return session, nil
}

// FindSession fetches a single session.
func (r *SessionRepo) FindSession(ctx context.Context, sessionID int) (models.Session, error) {
	var session models.Session
	err := r.db.GetContext(ctx, &session, `SELECT `+sessionColumns+` FROM chat_sessions WHERE id=$1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, models.ErrSessionNotFound
	}
	return session, err
}

// CloseSession deactivates a session. Memberships stay as a frozen roster.
// It reports false when the session was already closed.
func (r *SessionRepo) CloseSession(ctx context.Context, sessionID int) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var active bool
	err = tx.GetContext(ctx, &active, `SELECT active FROM chat_sessions WHERE id=$1 FOR UPDATE`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, models.ErrSessionNotFound
	}
	if err != nil {
		return false, err
	}
	if !active {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE chat_sessions SET active = FALSE, closed_at = NOW() WHERE id=$1`, sessionID); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// AddParticipant inserts a membership unless the session is inactive or full.
// The session row is locked for the duration so concurrent joins cannot both
// observe a free seat. An existing membership is returned with created=false.
func (r *SessionRepo) AddParticipant(ctx context.Context, sessionID, userID int, role models.ParticipantRole) (models.Participant, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Participant{}, false, err
	}
	defer tx.Rollback()

	var seat struct {
		Active   bool `db:"active"`
		Capacity int  `db:"capacity"`
	}
	err = tx.GetContext(ctx, &seat, `SELECT active, capacity FROM chat_sessions WHERE id=$1 FOR UPDATE`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, false, models.ErrSessionNotFound
	}
	if err != nil {
		return models.Participant{}, false, err
	}
	if !seat.Active {
		return models.Participant{}, false, models.ErrSessionInactive
	}

	var existing models.Participant
	err = tx.GetContext(ctx, &existing, `SELECT session_id, user_id, role, joined_at FROM session_participants WHERE session_id=$1 AND user_id=$2`, sessionID, userID)
	if err == nil {
		return existing, false, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, false, err
	}

	var count int
	if err := tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM session_participants WHERE session_id=$1`, sessionID); err != nil {
		return models.Participant{}, false, err
	}
	if count >= seat.Capacity {
		return models.Participant{}, false, models.ErrSessionFull
	}

	var participant models.Participant
	if err := tx.GetContext(ctx, &participant, `INSERT INTO session_participants (session_id, user_id, role) VALUES ($1, $2, $3) RETURNING session_id, user_id, role, joined_at`, sessionID, userID, role); err != nil {
		return models.Participant{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return models.Participant{}, false, err
	}
	return participant, true, nil
}

// RemoveParticipant deletes a membership and reports whether one existed.
func (r *SessionRepo) RemoveParticipant(ctx context.Context, sessionID, userID int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM session_participants WHERE session_id=$1 AND user_id=$2`, sessionID, userID)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountParticipants returns the current membership count.
func (r *SessionRepo) CountParticipants(ctx context.Context, sessionID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM session_participants WHERE session_id=$1`, sessionID)
	return count, err
}

// IsParticipant checks membership.
func (r *SessionRepo) IsParticipant(ctx context.Context, sessionID, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM session_participants WHERE session_id=$1 AND user_id=$2)`, sessionID, userID)
	return exists, err
}

// GetParticipant fetches a single membership.
func (r *SessionRepo) GetParticipant(ctx context.Context, sessionID, userID int) (models.Participant, error) {
	var participant models.Participant
	err := r.db.GetContext(ctx, &participant, `SELECT session_id, user_id, role, joined_at FROM session_participants WHERE session_id=$1 AND user_id=$2`, sessionID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, ErrParticipantNotFound
	}
	return participant, err
}

// ListParticipants returns the roster ordered by join time.
func (r *SessionRepo) ListParticipants(ctx context.Context, sessionID int) ([]models.Participant, error) {
	var participants []models.Participant
	err := r.db.SelectContext(ctx, &participants, `SELECT session_id, user_id, role, joined_at FROM session_participants WHERE session_id=$1 ORDER BY joined_at ASC, user_id ASC`, sessionID)
	return participants, err
}
