package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"session-chat-service/internal/models"
)

// RedisTransport relays session channels over Redis pub/sub so every server
// node sees envelopes published by any other node.
type RedisTransport struct {
	client *redis.Client

	mu    sync.Mutex
	feeds map[int]*redis.PubSub
}

var _ Transport = (*RedisTransport)(nil)

// NewRedisTransport parses url and verifies connectivity.
func NewRedisTransport(ctx context.Context, url string) (*RedisTransport, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis ping: %v", models.ErrChannelUnavailable, err)
	}
	return NewRedisTransportFromClient(client), nil
}

// NewRedisTransportFromClient wraps an existing client.
func NewRedisTransportFromClient(client *redis.Client) *RedisTransport {
	return &RedisTransport{client: client, feeds: make(map[int]*redis.PubSub)}
}

// Subscribe opens the feed for sessionID once Redis confirms the subscription.
func (t *RedisTransport) Subscribe(ctx context.Context, sessionID int) (<-chan models.Envelope, error) {
	pubsub := t.client.Subscribe(ctx, ChannelName(sessionID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: %v", models.ErrChannelUnavailable, err)
	}

	t.mu.Lock()
	if previous, ok := t.feeds[sessionID]; ok {
		_ = previous.Close()
	}
	t.feeds[sessionID] = pubsub
	t.mu.Unlock()

	out := make(chan models.Envelope, subscriberBuffer)
	go t.pump(sessionID, pubsub, out)
	return out, nil
}

func (t *RedisTransport) pump(sessionID int, pubsub *redis.PubSub, out chan<- models.Envelope) {
	defer close(out)
	for msg := range pubsub.Channel() {
		var env models.Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Printf("signaling redis decode failed channel=%s: %v", msg.Channel, err)
			continue
		}
		if env.SessionID != sessionID {
			continue
		}
		select {
		case out <- env:
		default:
			log.Printf("signaling redis subscriber full, dropping type=%s session=%d", env.Type, sessionID)
		}
	}
}

// Publish sends env on its session channel.
func (t *RedisTransport) Publish(ctx context.Context, env models.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := t.client.Publish(ctx, ChannelName(env.SessionID), body).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrChannelUnavailable, err)
	}
	return nil
}

// Unsubscribe closes the feed for sessionID.
func (t *RedisTransport) Unsubscribe(sessionID int) error {
	t.mu.Lock()
	pubsub, ok := t.feeds[sessionID]
	delete(t.feeds, sessionID)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	if err := pubsub.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

// Close releases every feed and the underlying client.
func (t *RedisTransport) Close() error {
	t.mu.Lock()
	feeds := t.feeds
	t.feeds = make(map[int]*redis.PubSub)
	t.mu.Unlock()
	for _, pubsub := range feeds {
		_ = pubsub.Close()
	}
	return t.client.Close()
}
