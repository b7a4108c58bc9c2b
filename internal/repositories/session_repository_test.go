package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session-chat-service/internal/models"
)

var participantColumns = []string{"session_id", "user_id", "role", "joined_at"}

func newMockRepo(t *testing.T) (*SessionRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSessionRepo(sqlx.NewDb(db, "postgres")), mock
}

func TestAddParticipantLocksSessionAndInserts(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT active, capacity FROM chat_sessions WHERE id=\$1 FOR UPDATE`).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"active", "capacity"}).AddRow(true, 2))
	mock.ExpectQuery(`SELECT session_id, user_id, role, joined_at FROM session_participants`).
		WithArgs(5, 3).
		WillReturnRows(sqlmock.NewRows(participantColumns))
	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`INSERT INTO session_participants`).
		WithArgs(5, 3, "participant").
		WillReturnRows(sqlmock.NewRows(participantColumns).AddRow(5, 3, "participant", time.Now()))
	mock.ExpectCommit()

	participant, created, err := repo.AddParticipant(context.Background(), 5, 3, models.RoleParticipant)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.RoleParticipant, participant.Role)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddParticipantRejectsWhenFull(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT active, capacity FROM chat_sessions`).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"active", "capacity"}).AddRow(true, 2))
	mock.ExpectQuery(`FROM session_participants WHERE session_id=\$1 AND user_id=\$2`).
		WithArgs(5, 3).
		WillReturnRows(sqlmock.NewRows(participantColumns))
	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectRollback()

	_, _, err := repo.AddParticipant(context.Background(), 5, 3, models.RoleParticipant)
	require.ErrorIs(t, err, models.ErrSessionFull)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddParticipantExistingMemberIsNoop(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT active, capacity FROM chat_sessions`).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"active", "capacity"}).AddRow(true, 1))
	mock.ExpectQuery(`FROM session_participants WHERE session_id=\$1 AND user_id=\$2`).
		WithArgs(5, 1).
		WillReturnRows(sqlmock.NewRows(participantColumns).AddRow(5, 1, "creator", time.Now()))
	mock.ExpectCommit()

	participant, created, err := repo.AddParticipant(context.Background(), 5, 1, models.RoleParticipant)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, models.RoleCreator, participant.Role)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddParticipantInactiveSession(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT active, capacity FROM chat_sessions`).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"active", "capacity"}).AddRow(false, 4))
	mock.ExpectRollback()

	_, _, err := repo.AddParticipant(context.Background(), 5, 3, models.RoleParticipant)
	require.ErrorIs(t, err, models.ErrSessionInactive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindSessionNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`FROM chat_sessions WHERE id=\$1`).
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"id", "creator_id", "mode", "capacity", "active", "created_at", "closed_at"}))

	_, err := repo.FindSession(context.Background(), 42)
	require.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestRemoveParticipantReportsMissingRow(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`DELETE FROM session_participants`).
		WithArgs(5, 9).
		WillReturnResult(sqlmock.NewResult(0, 0))

	removed, err := repo.RemoveParticipant(context.Background(), 5, 9)
	require.NoError(t, err)
	assert.False(t, removed)
}
