package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"session-chat-service/internal/models"
	"session-chat-service/internal/observability"
	"session-chat-service/internal/signaling"
)

const leavePublishTimeout = 5 * time.Second

// Hub maintains the local websocket connections of every session and bridges
// them to the signaling transport. A session is subscribed while at least one
// local connection is open.
type Hub struct {
	transport signaling.Transport

	mu    sync.Mutex
	rooms map[int]*room
}

type room struct {
	clients map[*Client]struct{}
	// ready is closed once the session subscription settles; err is set
	// when it failed.
	ready chan struct{}
	err   error
}

// NewHub creates an empty hub relaying through transport.
func NewHub(transport signaling.Transport) *Hub {
	return &Hub{transport: transport, rooms: make(map[int]*room)}
}

// Register adds c to its session room, subscribing to the session channel for
// the first local connection. The subscription runs outside the hub lock;
// concurrent registrations for the same session wait for it.
func (h *Hub) Register(ctx context.Context, c *Client) error {
	for {
		h.mu.Lock()
		r, ok := h.rooms[c.sessionID]
		if !ok {
			r = &room{clients: make(map[*Client]struct{}), ready: make(chan struct{})}
			h.rooms[c.sessionID] = r
			h.mu.Unlock()
			return h.subscribe(ctx, r, c)
		}
		h.mu.Unlock()

		select {
		case <-r.ready:
		case <-ctx.Done():
			return ctx.Err()
		}

		h.mu.Lock()
		if r.err != nil {
			h.mu.Unlock()
			return r.err
		}
		// The room may have emptied and gone while this caller waited.
		if h.rooms[c.sessionID] == r {
			r.clients[c] = struct{}{}
			h.mu.Unlock()
			return nil
		}
		h.mu.Unlock()
	}
}

func (h *Hub) subscribe(ctx context.Context, r *room, c *Client) error {
	feed, err := h.transport.Subscribe(context.WithoutCancel(ctx), c.sessionID)

	h.mu.Lock()
	defer h.mu.Unlock()
	defer close(r.ready)
	if err != nil {
		r.err = err
		delete(h.rooms, c.sessionID)
		return err
	}
	r.clients[c] = struct{}{}
	go h.pump(c.sessionID, r, feed)
	return nil
}

// Unregister removes c. The session is unsubscribed after its last local
// connection leaves. A user whose last connection drops while in audio is
// announced as having left.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	r, ok := h.rooms[c.sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, member := r.clients[c]; !member {
		h.mu.Unlock()
		return
	}
	delete(r.clients, c)

	last := true
	for other := range r.clients {
		if other.info.UserID == c.info.UserID {
			last = false
			break
		}
	}
	if len(r.clients) == 0 {
		delete(h.rooms, c.sessionID)
		if err := h.transport.Unsubscribe(c.sessionID); err != nil {
			log.Printf("ws unsubscribe failed session=%d: %v", c.sessionID, err)
		}
	}
	h.mu.Unlock()

	if last && c.inAudio() {
		ctx, cancel := context.WithTimeout(context.Background(), leavePublishTimeout)
		defer cancel()
		err := h.transport.Publish(ctx, models.Envelope{
			Type:      models.EnvelopeLeave,
			From:      c.info.UserID,
			SessionID: c.sessionID,
		})
		if err != nil {
			log.Printf("ws leave-on-drop publish failed session=%d user=%d: %v", c.sessionID, c.info.UserID, err)
		}
	}
}

// Publish relays env to the session channel.
func (h *Hub) Publish(ctx context.Context, env models.Envelope) error {
	return h.transport.Publish(ctx, env)
}

// Connections reports the number of local connections to sessionID that
// still have access to it.
func (h *Hub) Connections(sessionID int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	if r, ok := h.rooms[sessionID]; ok {
		for c := range r.clients {
			if !c.isRevoked() {
				n++
			}
		}
	}
	return n
}

func (h *Hub) pump(sessionID int, r *room, feed <-chan models.Envelope) {
	for env := range feed {
		h.broadcast(r, env)
	}

	// The feed also closes on Unsubscribe; only a room that is still current
	// lost its channel underneath live connections.
	h.mu.Lock()
	var stranded []*Client
	if h.rooms[sessionID] == r {
		delete(h.rooms, sessionID)
		for c := range r.clients {
			stranded = append(stranded, c)
		}
	}
	h.mu.Unlock()

	for _, c := range stranded {
		log.Printf("ws signaling feed closed session=%d conn_id=%s", sessionID, c.info.ConnID)
		c.Close()
	}
}

func (h *Hub) broadcast(r *room, env models.Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		log.Printf("ws encode failed type=%s session=%d: %v", env.Type, env.SessionID, err)
		return
	}

	h.mu.Lock()
	targets := make([]*Client, 0, len(r.clients))
	var revoked []*Client
	for c := range r.clients {
		if c.isRevoked() {
			continue
		}
		if env.DeliverableTo(c.info.UserID) {
			targets = append(targets, c)
		}
		if env.Revokes(c.info.UserID) {
			revoked = append(revoked, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		if !c.enqueue(payload) {
			log.Printf("websocket send buffer full session=%d conn_id=%s", c.sessionID, c.info.ConnID)
			c.Close()
			continue
		}
		observability.IncEnvelope("out", string(env.Type))
	}
	// Revoked clients still get the envelope that revoked them, then close.
	for _, c := range revoked {
		if c.revoke(string(env.Type)) {
			log.Printf("ws access revoked session=%d user=%d conn_id=%s reason=%s", c.sessionID, c.info.UserID, c.info.ConnID, env.Type)
		}
	}
}
