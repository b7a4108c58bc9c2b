package notify

import (
	"context"

	"session-chat-service/internal/rabbitmq"
)

// AMQPNotifier publishes events on the shared exchange under
// "notifications.<kind>".
type AMQPNotifier struct {
	publisher rabbitmq.Publisher
}

// NewAMQPNotifier wraps a rabbitmq publisher.
func NewAMQPNotifier(publisher rabbitmq.Publisher) *AMQPNotifier {
	return &AMQPNotifier{publisher: publisher}
}

func (n *AMQPNotifier) Notify(ctx context.Context, event Event) error {
	return n.publisher.Publish(ctx, RoutingKey(event.Kind), event)
}

// RoutingKey is the AMQP routing key for an event kind.
func RoutingKey(kind string) string {
	return "notifications." + kind
}
