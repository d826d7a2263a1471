package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType tags the kind of a chat message. Only MessageTypeMessage
// carries user text that participates in search.
type MessageType string

const (
	MessageTypeMessage MessageType = "message"
	MessageTypeNotice  MessageType = "notice"
	MessageTypeAction  MessageType = "action"
	MessageTypeJoin    MessageType = "join"
	MessageTypePart    MessageType = "part"
	MessageTypeQuit    MessageType = "quit"
	MessageTypeTopic   MessageType = "topic"
	MessageTypeMode    MessageType = "mode"
)

// Network identifies one chat network a client is connected to.
// UUID is the stable identifier messages are stored under; Name is
// display-only and never persisted with messages.
type Network struct {
	UUID string `json:"uuid"`
	Name string `json:"name,omitempty"`
}

// NewNetwork creates a network with a fresh UUID.
func NewNetwork(name string) Network {
	return Network{UUID: uuid.NewString(), Name: name}
}

// Channel is a chat channel on a network. The store lowercases Name at
// every boundary; the channel itself preserves display casing.
type Channel struct {
	Name string `json:"name"`
}

// Message is one chat event. ID is ephemeral: it is minted by the owning
// client at delivery time and never stored. Extra carries arbitrary
// additional fields so new message shapes survive a round trip through
// storage without code changes.
type Message struct {
	ID   int64       `json:"id"`
	Time time.Time   `json:"time"`
	Type MessageType `json:"type"`
	From string      `json:"from,omitempty"`
	Text string      `json:"text,omitempty"`
	Self bool        `json:"self,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// Keys that must never appear inside a persisted payload: they are
// column-backed or re-minted on delivery (see EncodePayload).
var reservedPayloadKeys = []string{"id", "time", "type", "previews"}

// EncodePayload serializes every message field except id, time, type and
// previews into a JSON blob. Known fields become top-level keys; Extra
// entries ride alongside them.
func EncodePayload(m Message) ([]byte, error) {
	payload := make(map[string]any, len(m.Extra)+3)
	for k, v := range m.Extra {
		payload[k] = v
	}
	for _, k := range reservedPayloadKeys {
		delete(payload, k)
	}

	if m.From != "" {
		payload["from"] = m.From
	}
	if m.Text != "" {
		payload["text"] = m.Text
	}
	if m.Self {
		payload["self"] = m.Self
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode message payload: %w", err)
	}
	return data, nil
}

// DecodePayload is the inverse of EncodePayload. Column-backed fields
// (ID, Time, Type) are zero in the result; the caller fills them from
// the row they came with.
func DecodePayload(data []byte) (Message, error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return Message{}, fmt.Errorf("decode message payload: %w", err)
	}

	var m Message
	if v, ok := payload["from"].(string); ok {
		m.From = v
		delete(payload, "from")
	}
	if v, ok := payload["text"].(string); ok {
		m.Text = v
		delete(payload, "text")
	}
	if v, ok := payload["self"].(bool); ok {
		m.Self = v
		delete(payload, "self")
	}
	for _, k := range reservedPayloadKeys {
		delete(payload, k)
	}
	if len(payload) > 0 {
		m.Extra = payload
	}
	return m, nil
}
