// Package signaling delivers session events and WebRTC negotiation envelopes
// to every subscriber of a session channel.
//
// Delivery is best-effort and at-most-once. Envelopes published sequentially
// by one publisher reach each subscriber in the same order; there is no
// ordering across publishers. Subscribing yields future events only.
package signaling

import (
	"context"
	"fmt"

	"session-chat-service/internal/models"
)

// Publisher is the write half of a Transport.
type Publisher interface {
	Publish(ctx context.Context, env models.Envelope) error
}

// Transport is a duplex publish/subscribe channel per chat session.
type Transport interface {
	Publisher
	// Subscribe opens a feed of future events for sessionID. It fails with
	// models.ErrChannelUnavailable when the backend cannot be reached.
	Subscribe(ctx context.Context, sessionID int) (<-chan models.Envelope, error)
	// Unsubscribe closes the feed for sessionID. Idempotent.
	Unsubscribe(sessionID int) error
}

// ChannelName is the broker channel used for a session.
func ChannelName(sessionID int) string {
	return fmt.Sprintf("chat.session.%d", sessionID)
}

const subscriberBuffer = 256
