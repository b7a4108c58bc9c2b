package ws

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// ConnInfo describes a connection for logs and lifecycle events.
type ConnInfo struct {
	ConnID      string
	UserID      int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// Client is one websocket connection to a session.
type Client struct {
	conn      *websocket.Conn
	sessionID int
	info      ConnInfo

	send    chan []byte
	done    chan struct{}
	once    sync.Once
	audio   atomic.Bool
	revoked atomic.Bool
	reason  string
}

func newClient(conn *websocket.Conn, sessionID int, info ConnInfo) *Client {
	return &Client{
		conn:      conn,
		sessionID: sessionID,
		info:      info,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
	}
}

func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) inAudio() bool { return c.audio.Load() }

func (c *Client) isRevoked() bool { return c.revoked.Load() }

// revoke ends the client's access to the session. Frames already queued are
// written, then the connection is closed with a policy-violation code.
// Inbound frames are dropped from now on.
func (c *Client) revoke(reason string) bool {
	if !c.revoked.CompareAndSwap(false, true) {
		return false
	}
	c.audio.Store(false)
	c.reason = reason
	// nil marks the end of the queue for writeLoop.
	if !c.enqueue(nil) {
		c.closeWith(websocket.ClosePolicyViolation, reason)
	}
	return true
}

// Close stops the write loop and closes the connection. Safe to call repeatedly.
func (c *Client) Close() {
	c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *Client) closeWith(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
			_ = c.conn.Close()
		}
	})
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			if payload == nil {
				c.closeWith(websocket.ClosePolicyViolation, c.reason)
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("websocket write error: %v", err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// readLoop hands every text frame to onFrame until the connection fails.
func (c *Client) readLoop(onFrame func(raw []byte)) error {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, raw, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		if kind == websocket.TextMessage {
			onFrame(raw)
		}
	}
}
