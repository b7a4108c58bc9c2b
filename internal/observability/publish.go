package observability

import (
	"context"
	"sync"
)

// Publisher sends JSON events with transport headers. rabbitmq.Publisher satisfies it.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, message any, headers map[string]string) error
}

var (
	publisherMu      sync.RWMutex
	defaultPublisher Publisher
)

func SetPublisher(publisher Publisher) {
	publisherMu.Lock()
	defaultPublisher = publisher
	publisherMu.Unlock()
}

func PublishEvent(ctx context.Context, routingKey string, message any, headers map[string]string) error {
	publisherMu.RLock()
	publisher := defaultPublisher
	publisherMu.RUnlock()
	if publisher == nil {
		return nil
	}

	err := publisher.PublishJSON(ctx, routingKey, message, headers)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}

// PublishWSEvent counts ev and publishes it as a ws_events envelope.
func PublishWSEvent(ctx context.Context, ev WSEvent, requestID, traceID string) {
	IncWSEvent(ev.Event)
	_ = PublishEvent(ctx, WSRoutingKey, EventEnvelope{
		EventType: "ws_events",
		EventName: ev.Event,
		Payload:   ev,
	}, BuildHeaders(requestID, traceID))
}
