package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"session-chat-service/internal/mocks"
	"session-chat-service/internal/models"
	"session-chat-service/internal/repositories"
	"session-chat-service/internal/signaling"
)

func newSession(t *testing.T, store *repositories.MemoryStore, members ...int) models.Session {
	t.Helper()
	ctx := context.Background()
	session, err := store.CreateSession(ctx, 1, models.SessionModeText, 10)
	require.NoError(t, err)
	for _, id := range members {
		_, _, err := store.AddParticipant(ctx, session.ID, id, models.RoleParticipant)
		require.NoError(t, err)
	}
	return session
}

func TestSendMessageStoresThenBroadcasts(t *testing.T) {
	store := repositories.NewMemoryStore()
	broker := signaling.NewMemoryBroker()
	defer broker.Close()
	session := newSession(t, store, 2)

	feed, err := broker.Transport().Subscribe(context.Background(), session.ID)
	require.NoError(t, err)

	sender := NewSender(store, store, broker.Transport(), nil)
	result, err := sender.SendMessage(context.Background(), session.ID, 2, models.MessageKindText, "hi")
	require.NoError(t, err)
	assert.True(t, result.Live)
	assert.Empty(t, result.Warning)

	select {
	case env := <-feed:
		require.Equal(t, models.EnvelopeMessageSent, env.Type)
		payload := env.Data.(models.MessageSentPayload)
		assert.Equal(t, result.Message, payload.Message)
		assert.Equal(t, models.AuthorInfo{ID: 2, Role: models.RoleParticipant}, payload.Author)
	case <-time.After(time.Second):
		t.Fatal("no broadcast")
	}

	msgs, err := sender.Messages(context.Background(), session.ID, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Body)
}

func TestSendMessageRequiresMembershipFirst(t *testing.T) {
	store := repositories.NewMemoryStore()
	sender := NewSender(store, store, new(mocks.EnvelopePublisherMock), nil)

	_, err := sender.SendMessage(context.Background(), 404, 2, models.MessageKindText, "hi")
	require.ErrorIs(t, err, models.ErrNotAParticipant)

	session := newSession(t, store)
	_, err = sender.SendMessage(context.Background(), session.ID, 9, models.MessageKindText, "")
	require.ErrorIs(t, err, models.ErrNotAParticipant)

	_, err = sender.Messages(context.Background(), session.ID, 9)
	require.ErrorIs(t, err, models.ErrNotAParticipant)
}

func TestSendMessageInactiveSession(t *testing.T) {
	store := repositories.NewMemoryStore()
	session := newSession(t, store, 2)
	_, err := store.CloseSession(context.Background(), session.ID)
	require.NoError(t, err)

	sender := NewSender(store, store, new(mocks.EnvelopePublisherMock), nil)
	_, err = sender.SendMessage(context.Background(), session.ID, 2, models.MessageKindText, "late")
	require.ErrorIs(t, err, models.ErrSessionInactive)
}

func TestSendMessageRejectsInvalidInput(t *testing.T) {
	store := repositories.NewMemoryStore()
	session := newSession(t, store)
	sender := NewSender(store, store, new(mocks.EnvelopePublisherMock), nil)

	_, err := sender.SendMessage(context.Background(), session.ID, 1, models.MessageKind("video"), "x")
	require.ErrorIs(t, err, models.ErrInvalidMessage)

	_, err = sender.SendMessage(context.Background(), session.ID, 1, models.MessageKindText, "   ")
	require.ErrorIs(t, err, models.ErrInvalidMessage)
}

func TestSendMessageStoreFailureSkipsBroadcast(t *testing.T) {
	store := repositories.NewMemoryStore()
	session := newSession(t, store)
	messages := new(mocks.SessionMessageRepositoryMock)
	messages.On("CreateMessage", mock.Anything, session.ID, 1, models.MessageKindText, "hi").Return(nil, assert.AnError).Once()
	publisher := new(mocks.EnvelopePublisherMock)

	sender := NewSender(store, messages, publisher, nil)
	_, err := sender.SendMessage(context.Background(), session.ID, 1, models.MessageKindText, "hi")
	require.ErrorIs(t, err, models.ErrPersistence)

	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	messages.AssertExpectations(t)
}

func TestSendMessagePublishFailureStillStored(t *testing.T) {
	store := repositories.NewMemoryStore()
	session := newSession(t, store)
	publisher := new(mocks.EnvelopePublisherMock)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(models.ErrChannelUnavailable).Once()

	sender := NewSender(store, store, publisher, nil)
	result, err := sender.SendMessage(context.Background(), session.ID, 1, models.MessageKindFile, "blob://a")
	require.NoError(t, err)
	assert.False(t, result.Live)
	assert.Equal(t, LiveWarning, result.Warning)

	msgs, err := sender.Messages(context.Background(), session.ID, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, result.Message.ID, msgs[0].ID)
	publisher.AssertExpectations(t)
}

func TestMessagesEmptyList(t *testing.T) {
	store := repositories.NewMemoryStore()
	session := newSession(t, store)
	msgs, err := NewSender(store, store, nil, nil).Messages(context.Background(), session.ID, 1)
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}
