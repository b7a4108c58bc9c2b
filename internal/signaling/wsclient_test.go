package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session-chat-service/internal/models"
)

func TestWSClientFiltersUnicastAndPublishes(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan models.Envelope, 1)
	handshake := make(chan [2]string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handshake <- [2]string{r.Header.Get("Authorization"), r.URL.Path}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, env := range []models.Envelope{
			{Type: models.EnvelopeOffer, From: 2, To: 3, SessionID: 4, Data: models.OfferPayload{SDP: "not for me"}},
			{Type: models.EnvelopeOffer, From: 2, To: 7, SessionID: 4, Data: models.OfferPayload{SDP: "for me"}},
		} {
			raw, _ := json.Marshal(env)
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env models.Envelope
		if json.Unmarshal(raw, &env) == nil {
			received <- env
		}
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	client := NewWSClient(server.URL, "tok", 7)
	defer client.Close()

	feed, err := client.Subscribe(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, [2]string{"Bearer tok", "/ws/sessions/4"}, <-handshake)

	env := receive(t, feed)
	assert.Equal(t, models.OfferPayload{SDP: "for me"}, env.Data)

	require.NoError(t, client.Publish(context.Background(), models.Envelope{Type: models.EnvelopeJoin, SessionID: 4}))
	sent := receive(t, received)
	assert.Equal(t, models.EnvelopeJoin, sent.Type)
	assert.Equal(t, 7, sent.From)
}

func TestWSClientPublishWithoutSubscription(t *testing.T) {
	client := NewWSClient("http://127.0.0.1:1", "tok", 1)
	err := client.Publish(context.Background(), models.Envelope{Type: models.EnvelopeJoin, SessionID: 9})
	require.ErrorIs(t, err, models.ErrChannelUnavailable)
}

func TestWSClientDialFailure(t *testing.T) {
	client := NewWSClient("http://127.0.0.1:1", "tok", 1)
	_, err := client.Subscribe(context.Background(), 9)
	require.ErrorIs(t, err, models.ErrChannelUnavailable)
}

func TestWSClientCloseFlushesQueuedFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan models.EnvelopeType, 4)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				close(received)
				return
			}
			var env models.Envelope
			if json.Unmarshal(raw, &env) == nil {
				received <- env.Type
			}
		}
	}))
	defer server.Close()

	client := NewWSClient(server.URL, "tok", 7)
	_, err := client.Subscribe(context.Background(), 4)
	require.NoError(t, err)

	require.NoError(t, client.Publish(context.Background(), models.Envelope{Type: models.EnvelopeMute, SessionID: 4}))
	require.NoError(t, client.Publish(context.Background(), models.Envelope{Type: models.EnvelopeLeave, SessionID: 4}))
	require.NoError(t, client.Close())

	var got []models.EnvelopeType
	for kind := range received {
		got = append(got, kind)
	}
	assert.Equal(t, []models.EnvelopeType{models.EnvelopeMute, models.EnvelopeLeave}, got)
}
