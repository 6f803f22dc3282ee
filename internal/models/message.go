package models

import (
	"encoding/json"
	"time"
)

// MessageType tags a stream envelope
type MessageType string

// Envelope types exchanged on /sensor-stream. Nodes send reading, batch and
// heartbeat and the server answers each with ack. Clients log error frames.
const (
	MessageTypeReading   MessageType = "reading"
	MessageTypeBatch     MessageType = "batch"
	MessageTypeHeartbeat MessageType = "heartbeat"
	MessageTypeAck       MessageType = "ack"
	MessageTypeError     MessageType = "error"
)

// Message wraps every frame between a field node and the server. Payload is
// decoded lazily once Type is known.
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage encodes payload into a UTC-stamped envelope
func NewMessage(msgType MessageType, payload any) (*Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: msgType, Payload: body, Timestamp: time.Now().UTC()}, nil
}

// UnmarshalPayload decodes Payload into v
func (m *Message) UnmarshalPayload(v any) error {
	return json.Unmarshal(m.Payload, v)
}

// BatchMessage carries readings buffered while a node was offline
type BatchMessage struct {
	Readings []Reading `json:"readings"`
	Count    int       `json:"count"`
}

// HeartbeatMessage registers a node on connect and keeps it listed after.
// BufferSize is the node's offline backlog.
type HeartbeatMessage struct {
	NodeID     string `json:"nodeId"`
	Uptime     int64  `json:"uptime"`
	BufferSize int    `json:"bufferSize"`
}

// AckMessage answers one node frame. Status is "ok" or "rejected".
type AckMessage struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// ErrorMessage reports a protocol failure
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
