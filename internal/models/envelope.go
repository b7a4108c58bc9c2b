package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EnvelopeType names every event carried on a session channel.
type EnvelopeType string

const (
	EnvelopeOffer        EnvelopeType = "offer"
	EnvelopeAnswer       EnvelopeType = "answer"
	EnvelopeICECandidate EnvelopeType = "ice-candidate"
	EnvelopeJoin         EnvelopeType = "join"
	EnvelopeLeave        EnvelopeType = "leave"
	EnvelopeMute         EnvelopeType = "mute"
	EnvelopeUnmute       EnvelopeType = "unmute"

	EnvelopeMessageSent       EnvelopeType = "message.sent"
	EnvelopeParticipantJoined EnvelopeType = "participant.joined"
	EnvelopeParticipantLeft   EnvelopeType = "participant.left"
	EnvelopeSessionClosed     EnvelopeType = "session.closed"
)

var ErrUnknownEnvelopeType = errors.New("unknown envelope type")

// ClientSignal reports whether clients may originate envelopes of this type.
// Everything else is emitted by the server only.
func (t EnvelopeType) ClientSignal() bool {
	switch t {
	case EnvelopeOffer, EnvelopeAnswer, EnvelopeICECandidate,
		EnvelopeJoin, EnvelopeLeave, EnvelopeMute, EnvelopeUnmute:
		return true
	}
	return false
}

// Payload is the closed set of envelope data shapes.
type Payload interface {
	payloadType() EnvelopeType
}

// OfferPayload carries a local session description of type offer.
type OfferPayload struct {
	SDP string `json:"sdp"`
}

// AnswerPayload carries a local session description of type answer.
type AnswerPayload struct {
	SDP string `json:"sdp"`
}

// IceCandidatePayload mirrors RTCIceCandidateInit.
type IceCandidatePayload struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// AuthorInfo is the minimal author metadata attached to broadcast messages.
type AuthorInfo struct {
	ID   int             `json:"id"`
	Role ParticipantRole `json:"role"`
}

// MessageSentPayload is broadcast after a message is stored.
type MessageSentPayload struct {
	Message Message    `json:"message"`
	Author  AuthorInfo `json:"author"`
}

// ParticipantPayload describes a membership change.
type ParticipantPayload struct {
	UserID int             `json:"userId"`
	Role   ParticipantRole `json:"role,omitempty"`
	Count  int             `json:"count"`
}

func (OfferPayload) payloadType() EnvelopeType        { return EnvelopeOffer }
func (AnswerPayload) payloadType() EnvelopeType       { return EnvelopeAnswer }
func (IceCandidatePayload) payloadType() EnvelopeType { return EnvelopeICECandidate }
func (MessageSentPayload) payloadType() EnvelopeType  { return EnvelopeMessageSent }

// ParticipantPayload serves both participant.joined and participant.left.
func (ParticipantPayload) payloadType() EnvelopeType { return EnvelopeParticipantJoined }

// Envelope is the wire message carried over a session channel.
// To == 0 means broadcast to the whole session.
type Envelope struct {
	Type      EnvelopeType
	From      int
	To        int
	SessionID int
	Data      Payload
}

type wireEnvelope struct {
	Type      EnvelopeType    `json:"type"`
	From      int             `json:"from"`
	To        int             `json:"to,omitempty"`
	SessionID int             `json:"sessionId"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// DeliverableTo reports whether userID is an intended recipient.
func (e Envelope) DeliverableTo(userID int) bool {
	return e.To == 0 || e.To == userID
}

// Revokes reports whether e ends userID's access to the session channel:
// the session closed, or userID left it.
func (e Envelope) Revokes(userID int) bool {
	switch e.Type {
	case EnvelopeSessionClosed:
		return true
	case EnvelopeParticipantLeft:
		p, ok := e.Data.(ParticipantPayload)
		return ok && p.UserID == userID
	}
	return false
}

// Validate checks that Data matches Type.
func (e Envelope) Validate() error {
	switch e.Type {
	case EnvelopeJoin, EnvelopeLeave, EnvelopeMute, EnvelopeUnmute, EnvelopeSessionClosed:
		if e.Data != nil {
			return fmt.Errorf("envelope %s carries no data", e.Type)
		}
		return nil
	case EnvelopeParticipantJoined, EnvelopeParticipantLeft:
		if _, ok := e.Data.(ParticipantPayload); !ok {
			return fmt.Errorf("envelope %s requires participant data", e.Type)
		}
		return nil
	case EnvelopeOffer, EnvelopeAnswer, EnvelopeICECandidate, EnvelopeMessageSent:
		if e.Data == nil || e.Data.payloadType() != e.Type {
			return fmt.Errorf("envelope %s has mismatched data", e.Type)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownEnvelopeType, e.Type)
}

// MarshalJSON encodes the envelope in its wire form.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	w := wireEnvelope{Type: e.Type, From: e.From, To: e.To, SessionID: e.SessionID}
	if e.Data != nil {
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		w.Data = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire form, resolving Data by Type.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	data, err := decodePayload(w.Type, w.Data)
	if err != nil {
		return err
	}
	*e = Envelope{Type: w.Type, From: w.From, To: w.To, SessionID: w.SessionID, Data: data}
	return nil
}

func decodePayload(t EnvelopeType, raw json.RawMessage) (Payload, error) {
	switch t {
	case EnvelopeJoin, EnvelopeLeave, EnvelopeMute, EnvelopeUnmute, EnvelopeSessionClosed:
		return nil, nil
	case EnvelopeOffer:
		return decodeInto[OfferPayload](t, raw)
	case EnvelopeAnswer:
		return decodeInto[AnswerPayload](t, raw)
	case EnvelopeICECandidate:
		return decodeInto[IceCandidatePayload](t, raw)
	case EnvelopeMessageSent:
		return decodeInto[MessageSentPayload](t, raw)
	case EnvelopeParticipantJoined, EnvelopeParticipantLeft:
		return decodeInto[ParticipantPayload](t, raw)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEnvelopeType, t)
}

func decodeInto[T Payload](t EnvelopeType, raw json.RawMessage) (Payload, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("envelope %s: missing data", t)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("envelope %s: %w", t, err)
	}
	return v, nil
}
