package signaling

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session-chat-service/internal/models"
)

func TestRedisTransportRelaysInOrder(t *testing.T) {
	server := miniredis.RunT(t)
	ctx := context.Background()

	subscriber := NewRedisTransportFromClient(redis.NewClient(&redis.Options{Addr: server.Addr()}))
	publisher := NewRedisTransportFromClient(redis.NewClient(&redis.Options{Addr: server.Addr()}))
	t.Cleanup(func() {
		_ = subscriber.Close()
		_ = publisher.Close()
	})

	feed, err := subscriber.Subscribe(ctx, 8)
	require.NoError(t, err)

	offer := models.Envelope{Type: models.EnvelopeOffer, From: 1, To: 2, SessionID: 8, Data: models.OfferPayload{SDP: "v=0"}}
	require.NoError(t, publisher.Publish(ctx, offer))
	require.NoError(t, publisher.Publish(ctx, models.Envelope{Type: models.EnvelopeMute, From: 1, SessionID: 8}))

	first := receive(t, feed)
	assert.Equal(t, models.EnvelopeOffer, first.Type)
	assert.Equal(t, models.OfferPayload{SDP: "v=0"}, first.Data)
	assert.Equal(t, 2, first.To)
	assert.Equal(t, models.EnvelopeMute, receive(t, feed).Type)

	require.NoError(t, subscriber.Unsubscribe(8))
	require.NoError(t, subscriber.Unsubscribe(8))
}

func TestRedisTransportUnreachable(t *testing.T) {
	_, err := NewRedisTransport(context.Background(), "redis://127.0.0.1:1/0")
	require.ErrorIs(t, err, models.ErrChannelUnavailable)
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "chat.session.12", ChannelName(12))
}
