package signaling

import (
	"context"
	"fmt"
	"log"
	"sync"

	"session-chat-service/internal/models"
)

// MemoryBroker fans envelopes out to in-process subscribers.
type MemoryBroker struct {
	mu     sync.Mutex
	subs   map[int]map[*memorySub]struct{}
	closed bool
}

type memorySub struct {
	// mu serialises sends with close so a publisher never writes to a closed channel.
	mu     sync.Mutex
	ch     chan models.Envelope
	closed bool
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[int]map[*memorySub]struct{})}
}

// Transport returns a new endpoint attached to the broker. Each endpoint holds
// at most one feed per session.
func (b *MemoryBroker) Transport() *MemoryTransport {
	return &MemoryTransport{broker: b, feeds: make(map[int]*memorySub)}
}

// Close detaches every subscriber; later subscriptions fail.
func (b *MemoryBroker) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[int]map[*memorySub]struct{})
	b.closed = true
	b.mu.Unlock()

	for _, set := range subs {
		for sub := range set {
			sub.close()
		}
	}
}

func (b *MemoryBroker) attach(sessionID int) (*memorySub, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("%w: broker closed", models.ErrChannelUnavailable)
	}
	sub := &memorySub{ch: make(chan models.Envelope, subscriberBuffer)}
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[*memorySub]struct{})
	}
	b.subs[sessionID][sub] = struct{}{}
	return sub, nil
}

func (b *MemoryBroker) detach(sessionID int, sub *memorySub) {
	b.mu.Lock()
	if set, ok := b.subs[sessionID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sessionID)
		}
	}
	b.mu.Unlock()
	sub.close()
}

func (b *MemoryBroker) publish(env models.Envelope) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("%w: broker closed", models.ErrChannelUnavailable)
	}
	targets := make([]*memorySub, 0, len(b.subs[env.SessionID]))
	for sub := range b.subs[env.SessionID] {
		targets = append(targets, sub)
	}
	// Delivery happens under the broker lock so concurrent publishers cannot
	// interleave half-delivered envelopes.
	for _, sub := range targets {
		sub.send(env)
	}
	b.mu.Unlock()
	return nil
}

func (s *memorySub) send(env models.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- env:
	default:
		log.Printf("signaling memory subscriber full, dropping type=%s session=%d", env.Type, env.SessionID)
	}
}

func (s *memorySub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// MemoryTransport is one endpoint of a MemoryBroker.
type MemoryTransport struct {
	broker *MemoryBroker
	mu     sync.Mutex
	feeds  map[int]*memorySub
}

var _ Transport = (*MemoryTransport)(nil)

// Subscribe opens (or reopens) the feed for sessionID.
func (t *MemoryTransport) Subscribe(ctx context.Context, sessionID int) (<-chan models.Envelope, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.feeds[sessionID]; ok {
		t.broker.detach(sessionID, existing)
	}
	sub, err := t.broker.attach(sessionID)
	if err != nil {
		return nil, err
	}
	t.feeds[sessionID] = sub
	return sub.ch, nil
}

// Publish delivers env to every subscriber of env.SessionID.
func (t *MemoryTransport) Publish(ctx context.Context, env models.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	return t.broker.publish(env)
}

// Unsubscribe closes the feed for sessionID.
func (t *MemoryTransport) Unsubscribe(sessionID int) error {
	t.mu.Lock()
	sub, ok := t.feeds[sessionID]
	delete(t.feeds, sessionID)
	t.mu.Unlock()
	if ok {
		t.broker.detach(sessionID, sub)
	}
	return nil
}
