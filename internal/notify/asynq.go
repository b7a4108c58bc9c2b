package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const queueName = "notifications"

// AsynqNotifier enqueues events as asynq tasks of type "notify:<kind>".
type AsynqNotifier struct {
	client *asynq.Client
}

// NewAsynqNotifier connects to the Redis instance at redisURL.
func NewAsynqNotifier(redisURL string) (*AsynqNotifier, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis uri: %w", err)
	}
	return &AsynqNotifier{client: asynq.NewClient(opt)}, nil
}

// NewTask builds the asynq task for event.
func NewTask(event Event) (*asynq.Task, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskType(event.Kind), payload, asynq.MaxRetry(5), asynq.Queue(queueName)), nil
}

// TaskType is the asynq task type for an event kind.
func TaskType(kind string) string {
	return "notify:" + kind
}

func (n *AsynqNotifier) Notify(ctx context.Context, event Event) error {
	task, err := NewTask(event)
	if err != nil {
		return err
	}
	if _, err := n.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("asynq: enqueue %s: %w", task.Type(), err)
	}
	return nil
}

// Close releases the Redis connection.
func (n *AsynqNotifier) Close() error {
	return n.client.Close()
}
