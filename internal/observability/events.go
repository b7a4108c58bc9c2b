package observability

import "time"

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// WSEvent describes one websocket lifecycle transition of a session connection.
type WSEvent struct {
	SessionID  int       `json:"session_id"`
	Event      string    `json:"event"`
	ConnID     string    `json:"conn_id"`
	DurationMS int64     `json:"duration_ms"`
	Reason     string    `json:"reason"`
	Identity   Identity  `json:"identity"`
	At         time.Time `json:"at"`
}

type Identity struct {
	UserID   int    `json:"user_id"`
	DeviceID string `json:"device_id"`
	IP       string `json:"ip"`
}

// WSRoutingKey is the routing key for session websocket events.
const WSRoutingKey = "ws_events.sessions"

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
