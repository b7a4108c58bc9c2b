package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"session-chat-service/internal/mocks"
)

func TestAMQPNotifierRoutesByKind(t *testing.T) {
	publisher := new(mocks.BrokerPublisherMock)
	event := Event{Kind: SessionCreated, SessionID: 3, UserID: 1, OccurredAt: time.Unix(0, 0)}
	publisher.On("Publish", mock.Anything, "notifications.session.created", event).Return(nil).Once()

	require.NoError(t, NewAMQPNotifier(publisher).Notify(context.Background(), event))
	publisher.AssertExpectations(t)
}

func TestNewTaskEncodesEvent(t *testing.T) {
	event := Event{Kind: ParticipantJoined, SessionID: 4, UserID: 9}
	task, err := NewTask(event)
	require.NoError(t, err)

	assert.Equal(t, "notify:participant.joined", task.Type())
	var decoded Event
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, event.Kind, decoded.Kind)
	assert.Equal(t, 4, decoded.SessionID)
	assert.Equal(t, 9, decoded.UserID)
}

func TestAsynqNotifierEnqueues(t *testing.T) {
	mr := miniredis.RunT(t)
	n, err := NewAsynqNotifier("redis://" + mr.Addr())
	require.NoError(t, err)
	defer n.Close()

	require.NoError(t, n.Notify(context.Background(), Event{Kind: SessionClosed, SessionID: 2, UserID: 1}))
	assert.NotEmpty(t, mr.Keys())
}

func TestAsynqNotifierRejectsBadURI(t *testing.T) {
	_, err := NewAsynqNotifier("ftp://nowhere")
	require.Error(t, err)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "kind=session.closed session_id=2 user_id=1", Event{Kind: SessionClosed, SessionID: 2, UserID: 1}.Describe())
}
