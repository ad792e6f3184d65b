package ws

import "time"

// MessageType discriminates WebSocket messages.
type MessageType string

const (
	MessageGatewayDiscovered MessageType = "forward.gateway_discovered"
	MessageRulesCreated      MessageType = "forward.rules_created"
	MessageRestarted         MessageType = "forward.restarted"
	MessageSettingsUpdated   MessageType = "settings.updated"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data,omitempty"`
}
