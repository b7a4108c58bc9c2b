package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"session-chat-service/internal/models"
)

// SessionMessageRepository defines interactions for session messages.
type SessionMessageRepository interface {
	CreateMessage(ctx context.Context, sessionID, authorID int, kind models.MessageKind, body string) (models.Message, error)
	ListMessages(ctx context.Context, sessionID int) ([]models.Message, error)
}

// SessionMessageRepo is a sqlx-backed implementation.
type SessionMessageRepo struct {
	db *sqlx.DB
}

// NewSessionMessageRepo constructs a SessionMessageRepo.
func NewSessionMessageRepo(db *sqlx.DB) *SessionMessageRepo {
	return &SessionMessageRepo{db: db}
}

// CreateMessage persists a message.
func (r *SessionMessageRepo) CreateMessage(ctx context.Context, sessionID, authorID int, kind models.MessageKind, body string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO session_messages (session_id, author_id, kind, body) VALUES ($1, $2, $3, $4) RETURNING id, session_id, author_id, kind, body, created_at`, sessionID, authorID, kind, body).
		Scan(&msg.ID, &msg.SessionID, &msg.AuthorID, &msg.Kind, &msg.Body, &msg.CreatedAt)
	return msg, err
}

// ListMessages returns messages in creation order.
func (r *SessionMessageRepo) ListMessages(ctx context.Context, sessionID int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT id, session_id, author_id, kind, body, created_at FROM session_messages WHERE session_id=$1 ORDER BY id ASC`, sessionID)
	return msgs, err
}
