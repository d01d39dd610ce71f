package ws

import "encoding/json"

// MessageType constants for the WebSocket protocol.
const (
	// Client -> Server
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"

	// Server -> Client
	TypeSubscribed = "subscribed"
	TypeError      = "error"
	TypePong       = "pong"
)

// Session event types are forwarded verbatim as message types
// ("session.created", "answer.evaluated", "review.suggested",
// "session.finished").

// Message wraps all WebSocket payloads with type and optional request ID.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// Client Messages (incoming)

type SubscribePayload struct {
	SessionToken string `json:"session_token"`
}

// Server Messages (outgoing)

type SubscribedPayload struct {
	SessionToken string `json:"session_token"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage marshals payload into a typed message.
func NewMessage(msgType string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: msgType, Payload: raw}, nil
}
