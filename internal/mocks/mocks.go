package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"session-chat-service/internal/models"
	"session-chat-service/internal/rabbitmq"
	"session-chat-service/internal/repositories"
	"session-chat-service/internal/signaling"
)

type SessionRepositoryMock struct {
	mock.Mock
}

func (m *SessionRepositoryMock) CreateSession(ctx context.Context, creatorID int, mode models.SessionMode, capacity int) (models.Session, error) {
	args := m.Called(ctx, creatorID, mode, capacity)
	var session models.Session
	if val := args.Get(0); val != nil {
		session = val.(models.Session)
	}
	return session, args.Error(1)
}

func (m *SessionRepositoryMock) FindSession(ctx context.Context, sessionID int) (models.Session, error) {
	args := m.Called(ctx, sessionID)
	var session models.Session
	if val := args.Get(0); val != nil {
		session = val.(models.Session)
	}
	return session, args.Error(1)
}

func (m *SessionRepositoryMock) CloseSession(ctx context.Context, sessionID int) (bool, error) {
	args := m.Called(ctx, sessionID)
	return args.Bool(0), args.Error(1)
}

func (m *SessionRepositoryMock) AddParticipant(ctx context.Context, sessionID, userID int, role models.ParticipantRole) (models.Participant, bool, error) {
	args := m.Called(ctx, sessionID, userID, role)
	var participant models.Participant
	if val := args.Get(0); val != nil {
		participant = val.(models.Participant)
	}
	return participant, args.Bool(1), args.Error(2)
}

func (m *SessionRepositoryMock) RemoveParticipant(ctx context.Context, sessionID, userID int) (bool, error) {
	args := m.Called(ctx, sessionID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *SessionRepositoryMock) CountParticipants(ctx context.Context, sessionID int) (int, error) {
	args := m.Called(ctx, sessionID)
	return args.Int(0), args.Error(1)
}

func (m *SessionRepositoryMock) IsParticipant(ctx context.Context, sessionID, userID int) (bool, error) {
	args := m.Called(ctx, sessionID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *SessionRepositoryMock) GetParticipant(ctx context.Context, sessionID, userID int) (models.Participant, error) {
	args := m.Called(ctx, sessionID, userID)
	var participant models.Participant
	if val := args.Get(0); val != nil {
		participant = val.(models.Participant)
	}
	return participant, args.Error(1)
}

func (m *SessionRepositoryMock) ListParticipants(ctx context.Context, sessionID int) ([]models.Participant, error) {
	args := m.Called(ctx, sessionID)
	var list []models.Participant
	if val := args.Get(0); val != nil {
		list = val.([]models.Participant)
	}
	return list, args.Error(1)
}

type SessionMessageRepositoryMock struct {
	mock.Mock
}

func (m *SessionMessageRepositoryMock) CreateMessage(ctx context.Context, sessionID, authorID int, kind models.MessageKind, body string) (models.Message, error) {
	args := m.Called(ctx, sessionID, authorID, kind, body)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *SessionMessageRepositoryMock) ListMessages(ctx context.Context, sessionID int) ([]models.Message, error) {
	args := m.Called(ctx, sessionID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

type AuthorizerMock struct {
	mock.Mock
}

func (m *AuthorizerMock) CanCreateSession(ctx context.Context, userID int) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

// EnvelopePublisherMock stands in for a signaling publisher.
type EnvelopePublisherMock struct {
	mock.Mock
}

func (m *EnvelopePublisherMock) Publish(ctx context.Context, env models.Envelope) error {
	args := m.Called(ctx, env)
	return args.Error(0)
}

var _ repositories.SessionRepository = (*SessionRepositoryMock)(nil)
var _ repositories.SessionMessageRepository = (*SessionMessageRepositoryMock)(nil)
var _ signaling.Publisher = (*EnvelopePublisherMock)(nil)
var _ interface {
	CanCreateSession(context.Context, int) (bool, error)
} = (*AuthorizerMock)(nil)

// BrokerPublisherMock stands in for the RabbitMQ publisher.
type BrokerPublisherMock struct {
	mock.Mock
}

func (m *BrokerPublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	return m.Called(ctx, routingKey, event).Error(0)
}

func (m *BrokerPublisherMock) PublishJSON(ctx context.Context, routingKey string, message any, headers map[string]string) error {
	return m.Called(ctx, routingKey, message, headers).Error(0)
}

func (m *BrokerPublisherMock) Close() error {
	return m.Called().Error(0)
}

var _ rabbitmq.Publisher = (*BrokerPublisherMock)(nil)
