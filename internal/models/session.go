package models

import "time"

// SessionMode selects whether a session carries text chat only or an audio mesh too.
type SessionMode string

const (
	SessionModeText  SessionMode = "text"
	SessionModeAudio SessionMode = "audio"
)

// Valid reports whether m is a known mode.
func (m SessionMode) Valid() bool {
	return m == SessionModeText || m == SessionModeAudio
}

// ParticipantRole distinguishes the session creator from everyone else.
type ParticipantRole string

const (
	RoleCreator     ParticipantRole = "creator"
	RoleParticipant ParticipantRole = "participant"
)

// Session represents a chat room instance.
type Session struct {
	ID        int         `db:"id" json:"id"`
	CreatorID int         `db:"creator_id" json:"creator_id"`
	Mode      SessionMode `db:"mode" json:"mode"`
	Capacity  int         `db:"capacity" json:"capacity"`
	Active    bool        `db:"active" json:"active"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	ClosedAt  *time.Time  `db:"closed_at" json:"closed_at,omitempty"`
}

// Participant is the membership of one user in one session.
type Participant struct {
	SessionID int             `db:"session_id" json:"session_id"`
	UserID    int             `db:"user_id" json:"user_id"`
	Role      ParticipantRole `db:"role" json:"role"`
	JoinedAt  time.Time       `db:"joined_at" json:"joined_at"`
}
