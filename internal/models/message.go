package models

import "time"

// MessageKind describes what a message body holds.
type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindAudio MessageKind = "audio"
	MessageKindFile  MessageKind = "file"
)

// Valid reports whether k is a known kind.
func (k MessageKind) Valid() bool {
	switch k {
	case MessageKindText, MessageKindAudio, MessageKindFile:
		return true
	}
	return false
}

// Message represents one chat entry. Audio and file bodies are blob references.
type Message struct {
	ID        int         `db:"id" json:"id"`
	SessionID int         `db:"session_id" json:"session_id"`
	AuthorID  int         `db:"author_id" json:"author_id"`
	Kind      MessageKind `db:"kind" json:"kind"`
	Body      string      `db:"body" json:"body"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}
