package broadcast

import (
	"encoding/json"
)

// Outbound message types.
const (
	TypeConnected    = "connected"
	TypePong         = "pong"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeError        = "error"
	TypeHeartbeat    = "heartbeat"

	TypeAgentStatus   = "agent.status"
	TypeMetricsUpdate = "metrics.update"
	TypeLogsNew       = "logs.new"
	TypeChatMessage   = "chat.message"
)

// Message is the envelope of every frame sent to a peer. Timestamp is set
// by the hub at send time.
type Message struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
}

// inbound is a peer control message. Type is nil when the field is
// missing or not a string.
type inbound struct {
	Type *string         `json:"type"`
	Data json.RawMessage `json:"data"`
}

type subscription struct {
	Events any `json:"events"`
}

// requestedEvents returns data.events when it is set to a truthy value and
// an empty list otherwise.
func requestedEvents(data json.RawMessage) any {
	if len(data) == 0 {
		return []any{}
	}
	var sub subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return []any{}
	}
	switch v := sub.Events.(type) {
	case nil:
		return []any{}
	case bool:
		if !v {
			return []any{}
		}
	case string:
		if v == "" {
			return []any{}
		}
	case float64:
		if v == 0 {
			return []any{}
		}
	}
	return sub.Events
}
