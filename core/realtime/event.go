package realtime

import "encoding/json"

// Event taxonomy pushed over the realtime channel.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	EventMessage    = "message"
	EventTyping     = "typing"
)

// Envelope is the wire frame for every realtime event.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TypingPayload is the payload of an EventTyping frame.
type TypingPayload struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId,omitempty"`
}

// Handler receives the raw JSON payload of an event.
type Handler func(payload []byte)

// State is the connection state as reported to consumers.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}
