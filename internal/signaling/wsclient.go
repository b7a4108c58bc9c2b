package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"session-chat-service/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 128
)

// WSClient is the client side of the session channel: one websocket per
// subscribed session against the server relay. Envelopes addressed to other
// users are filtered out before they reach the feed.
type WSClient struct {
	baseURL string
	token   string
	selfID  int
	dialer  *websocket.Dialer

	mu    sync.Mutex
	feeds map[int]*wsFeed
}

type wsFeed struct {
	conn *websocket.Conn
	send chan []byte
	// stop asks the write loop to flush queued frames and close.
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	once     sync.Once
}

var _ Transport = (*WSClient)(nil)

// NewWSClient builds a client for the server at baseURL (http, https, ws or wss).
func NewWSClient(baseURL, token string, selfID int) *WSClient {
	return &WSClient{
		baseURL: baseURL,
		token:   token,
		selfID:  selfID,
		dialer:  websocket.DefaultDialer,
		feeds:   make(map[int]*wsFeed),
	}
}

func (c *WSClient) sessionURL(sessionID int) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + fmt.Sprintf("/ws/sessions/%d", sessionID)
	return u.String(), nil
}

// Subscribe dials the session channel and starts the read and write loops.
func (c *WSClient) Subscribe(ctx context.Context, sessionID int) (<-chan models.Envelope, error) {
	target, err := c.sessionURL(sessionID)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: status %d", models.ErrChannelUnavailable, target, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", models.ErrChannelUnavailable, target, err)
	}

	feed := &wsFeed{conn: conn, send: make(chan []byte, sendBuffer), stop: make(chan struct{}), done: make(chan struct{})}
	c.mu.Lock()
	if previous, ok := c.feeds[sessionID]; ok {
		previous.close()
	}
	c.feeds[sessionID] = feed
	c.mu.Unlock()

	out := make(chan models.Envelope, subscriberBuffer)
	go feed.writeLoop()
	go c.readLoop(sessionID, feed, out)
	return out, nil
}

func (c *WSClient) readLoop(sessionID int, feed *wsFeed, out chan<- models.Envelope) {
	defer func() {
		close(out)
		feed.close()
		c.mu.Lock()
		if c.feeds[sessionID] == feed {
			delete(c.feeds, sessionID)
		}
		c.mu.Unlock()
	}()

	feed.conn.SetReadDeadline(time.Now().Add(pongWait))
	feed.conn.SetPongHandler(func(string) error {
		return feed.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := feed.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("signaling ws read error session=%d: %v", sessionID, err)
			}
			return
		}
		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("signaling ws decode failed session=%d: %v", sessionID, err)
			continue
		}
		if !env.DeliverableTo(c.selfID) {
			continue
		}
		select {
		case out <- env:
		case <-feed.done:
			return
		}
	}
}

func (f *wsFeed) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-f.stop:
			f.flush()
			f.close()
			return
		case payload := <-f.send:
			if !f.write(payload) {
				f.close()
				return
			}
		case <-ticker.C:
			_ = f.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := f.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.close()
				return
			}
		}
	}
}

func (f *wsFeed) write(payload []byte) bool {
	_ = f.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := f.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Printf("signaling ws write error: %v", err)
		return false
	}
	return true
}

func (f *wsFeed) flush() {
	for {
		select {
		case payload := <-f.send:
			if !f.write(payload) {
				return
			}
		default:
			return
		}
	}
}

// drain closes the feed after the frames already queued are written,
// waiting at most writeWait.
func (f *wsFeed) drain() {
	f.stopOnce.Do(func() { close(f.stop) })
	select {
	case <-f.done:
	case <-time.After(writeWait):
		f.close()
	}
}

func (f *wsFeed) close() {
	f.once.Do(func() {
		close(f.done)
		_ = f.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = f.conn.Close()
	})
}

// Publish queues env on the websocket of its session. The server stamps the
// authenticated sender, so From is informational only.
func (c *WSClient) Publish(ctx context.Context, env models.Envelope) error {
	if env.From == 0 {
		env.From = c.selfID
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.mu.Lock()
	feed, ok := c.feeds[env.SessionID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: session %d not subscribed", models.ErrChannelUnavailable, env.SessionID)
	}

	select {
	case <-feed.done:
		return fmt.Errorf("%w: connection closed", models.ErrChannelUnavailable)
	case <-ctx.Done():
		return ctx.Err()
	case feed.send <- body:
		return nil
	default:
		return errors.New("signaling send buffer full")
	}
}

// Unsubscribe closes the websocket of sessionID once queued frames are sent.
func (c *WSClient) Unsubscribe(sessionID int) error {
	c.mu.Lock()
	feed, ok := c.feeds[sessionID]
	delete(c.feeds, sessionID)
	c.mu.Unlock()
	if ok {
		feed.drain()
	}
	return nil
}

// Close disconnects every session, flushing frames queued by Publish first.
func (c *WSClient) Close() error {
	c.mu.Lock()
	feeds := c.feeds
	c.feeds = make(map[int]*wsFeed)
	c.mu.Unlock()
	for _, feed := range feeds {
		feed.drain()
	}
	return nil
}
