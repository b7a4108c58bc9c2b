package ws

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session-chat-service/internal/models"
	"session-chat-service/internal/signaling"
)

type countingTransport struct {
	signaling.Transport
	subscribes   atomic.Int32
	unsubscribes atomic.Int32
}

func (t *countingTransport) Subscribe(ctx context.Context, sessionID int) (<-chan models.Envelope, error) {
	t.subscribes.Add(1)
	return t.Transport.Subscribe(ctx, sessionID)
}

func (t *countingTransport) Unsubscribe(sessionID int) error {
	t.unsubscribes.Add(1)
	return t.Transport.Unsubscribe(sessionID)
}

func testClient(sessionID, userID int) *Client {
	return newClient(nil, sessionID, ConnInfo{ConnID: "c", UserID: userID})
}

func frame(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case payload := <-c.send:
		return payload
	case <-time.After(time.Second):
		t.Fatalf("user %d received nothing", c.info.UserID)
		return nil
	}
}

func quiet(t *testing.T, c *Client) {
	t.Helper()
	select {
	case payload := <-c.send:
		t.Fatalf("user %d received unexpected %s", c.info.UserID, payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubSubscribesForFirstAndUnsubscribesAfterLast(t *testing.T) {
	broker := signaling.NewMemoryBroker()
	defer broker.Close()
	transport := &countingTransport{Transport: broker.Transport()}
	hub := NewHub(transport)

	a, b := testClient(5, 1), testClient(5, 2)
	require.NoError(t, hub.Register(context.Background(), a))
	require.NoError(t, hub.Register(context.Background(), b))
	assert.Equal(t, int32(1), transport.subscribes.Load())
	assert.Equal(t, 2, hub.Connections(5))

	hub.Unregister(a)
	assert.Equal(t, int32(0), transport.unsubscribes.Load())
	hub.Unregister(b)
	hub.Unregister(b)
	assert.Equal(t, int32(1), transport.unsubscribes.Load())
	assert.Equal(t, 0, hub.Connections(5))

	require.NoError(t, hub.Register(context.Background(), a))
	assert.Equal(t, int32(2), transport.subscribes.Load())
}

func TestHubFanoutHonoursUnicast(t *testing.T) {
	broker := signaling.NewMemoryBroker()
	defer broker.Close()
	hub := NewHub(broker.Transport())
	publisher := broker.Transport()

	clients := []*Client{testClient(5, 1), testClient(5, 2), testClient(5, 3)}
	for _, c := range clients {
		require.NoError(t, hub.Register(context.Background(), c))
	}

	require.NoError(t, publisher.Publish(context.Background(), models.Envelope{
		Type: models.EnvelopeOffer, From: 1, To: 2, SessionID: 5, Data: models.OfferPayload{SDP: "v=0"},
	}))
	assert.Contains(t, string(frame(t, clients[1])), `"type":"offer"`)
	quiet(t, clients[0])
	quiet(t, clients[2])

	require.NoError(t, publisher.Publish(context.Background(), models.Envelope{
		Type: models.EnvelopeJoin, From: 1, SessionID: 5,
	}))
	for _, c := range clients {
		assert.JSONEq(t, `{"type":"join","from":1,"sessionId":5}`, string(frame(t, c)))
	}
}

func TestHubAnnouncesLeaveWhenLastAudioConnectionDrops(t *testing.T) {
	broker := signaling.NewMemoryBroker()
	defer broker.Close()
	hub := NewHub(broker.Transport())
	observer := broker.Transport()
	feed, err := observer.Subscribe(context.Background(), 5)
	require.NoError(t, err)

	phone, laptop, other := testClient(5, 1), testClient(5, 1), testClient(5, 2)
	phone.audio.Store(true)
	laptop.audio.Store(true)
	for _, c := range []*Client{phone, laptop, other} {
		require.NoError(t, hub.Register(context.Background(), c))
	}

	hub.Unregister(other)
	hub.Unregister(phone)
	hub.Unregister(laptop)

	select {
	case env := <-feed:
		assert.Equal(t, models.EnvelopeLeave, env.Type)
		assert.Equal(t, 1, env.From)
	case <-time.After(time.Second):
		t.Fatal("no leave announced")
	}
	select {
	case env := <-feed:
		t.Fatalf("unexpected %s from %d", env.Type, env.From)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	broker := signaling.NewMemoryBroker()
	defer broker.Close()
	hub := NewHub(broker.Transport())

	slow := testClient(5, 1)
	require.NoError(t, hub.Register(context.Background(), slow))
	for i := 0; i < sendBuffer; i++ {
		slow.send <- []byte("{}")
	}

	require.NoError(t, broker.Transport().Publish(context.Background(), models.Envelope{
		Type: models.EnvelopeMute, From: 2, SessionID: 5,
	}))
	select {
	case <-slow.done:
	case <-time.After(time.Second):
		t.Fatal("slow client was not closed")
	}
}

func TestHubClosesClientsWhenFeedEnds(t *testing.T) {
	broker := signaling.NewMemoryBroker()
	hub := NewHub(broker.Transport())

	c := testClient(5, 1)
	require.NoError(t, hub.Register(context.Background(), c))
	broker.Close()

	select {
	case <-c.done:
	case <-time.After(time.Second):
		t.Fatal("client was not closed")
	}
	assert.Eventually(t, func() bool { return hub.Connections(5) == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubRevokesUserWhoLeft(t *testing.T) {
	broker := signaling.NewMemoryBroker()
	defer broker.Close()
	hub := NewHub(broker.Transport())
	publisher := broker.Transport()

	stays, leaves := testClient(5, 1), testClient(5, 2)
	leaves.audio.Store(true)
	require.NoError(t, hub.Register(context.Background(), stays))
	require.NoError(t, hub.Register(context.Background(), leaves))

	require.NoError(t, publisher.Publish(context.Background(), models.Envelope{
		Type: models.EnvelopeParticipantLeft, From: 2, SessionID: 5, Data: models.ParticipantPayload{UserID: 2, Count: 1},
	}))
	assert.Contains(t, string(frame(t, stays)), `"participant.left"`)
	assert.Contains(t, string(frame(t, leaves)), `"participant.left"`)
	assert.Nil(t, frame(t, leaves), "revoked client should see the end of its queue")
	assert.True(t, leaves.isRevoked())
	assert.False(t, leaves.inAudio())
	assert.Equal(t, 1, hub.Connections(5))

	require.NoError(t, publisher.Publish(context.Background(), models.Envelope{
		Type: models.EnvelopeMessageSent, From: 1, SessionID: 5,
		Data: models.MessageSentPayload{Message: models.Message{ID: 1, SessionID: 5, AuthorID: 1, Kind: models.MessageKindText, Body: "secret"}},
	}))
	assert.Contains(t, string(frame(t, stays)), "secret")
	quiet(t, leaves)
}

func TestHubRevokesEveryoneWhenSessionCloses(t *testing.T) {
	broker := signaling.NewMemoryBroker()
	defer broker.Close()
	hub := NewHub(broker.Transport())

	clients := []*Client{testClient(5, 1), testClient(5, 2)}
	for _, c := range clients {
		require.NoError(t, hub.Register(context.Background(), c))
	}

	require.NoError(t, broker.Transport().Publish(context.Background(), models.Envelope{
		Type: models.EnvelopeSessionClosed, From: 1, SessionID: 5,
	}))
	for _, c := range clients {
		assert.Contains(t, string(frame(t, c)), `"session.closed"`)
		assert.Nil(t, frame(t, c))
		assert.True(t, c.isRevoked())
	}
	assert.Equal(t, 0, hub.Connections(5))
}

type gatedTransport struct {
	countingTransport
	gate chan struct{}
}

func (t *gatedTransport) Subscribe(ctx context.Context, sessionID int) (<-chan models.Envelope, error) {
	<-t.gate
	return t.countingTransport.Subscribe(ctx, sessionID)
}

func TestHubSubscribesOutsideLock(t *testing.T) {
	broker := signaling.NewMemoryBroker()
	defer broker.Close()
	transport := &gatedTransport{countingTransport: countingTransport{Transport: broker.Transport()}, gate: make(chan struct{})}
	hub := NewHub(transport)

	a, b := testClient(5, 1), testClient(5, 2)
	errs := make(chan error, 2)
	go func() { errs <- hub.Register(context.Background(), a) }()
	go func() { errs <- hub.Register(context.Background(), b) }()

	done := make(chan int, 1)
	go func() { done <- hub.Connections(6) }()
	select {
	case n := <-done:
		assert.Equal(t, 0, n)
	case <-time.After(time.Second):
		t.Fatal("hub lock held during subscribe")
	}

	close(transport.gate)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	assert.Equal(t, int32(1), transport.subscribes.Load())
	assert.Equal(t, 2, hub.Connections(5))
}

func TestHubRegisterReportsSubscribeFailure(t *testing.T) {
	broker := signaling.NewMemoryBroker()
	hub := NewHub(broker.Transport())
	broker.Close()

	err := hub.Register(context.Background(), testClient(5, 1))
	require.ErrorIs(t, err, models.ErrChannelUnavailable)
	assert.Equal(t, 0, hub.Connections(5))
}
