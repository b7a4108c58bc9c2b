package models

import "errors"

var (
	ErrInvalidCapacity       = errors.New("invalid capacity")
	ErrInvalidMode           = errors.New("invalid session mode")
	ErrInvalidMessage        = errors.New("invalid message")
	ErrForbidden             = errors.New("forbidden")
	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionInactive       = errors.New("session inactive")
	ErrSessionFull           = errors.New("session full")
	ErrNotAParticipant       = errors.New("not a participant")
	ErrChannelUnavailable    = errors.New("signaling channel unavailable")
	ErrNoMicrophoneAvailable = errors.New("no microphone available")
	ErrPermissionDenied      = errors.New("microphone permission denied")
	ErrNegotiationTimeout    = errors.New("negotiation timeout")

	// ErrPersistence wraps failures of the backing store.
	ErrPersistence = errors.New("session store error")
)
