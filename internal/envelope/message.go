package envelope

import (
	"encoding/json"
	"fmt"
)

// Message is the unit published on the bus.
//
// ReplyTo is only meaningful on the wire for transports that carry the
// reply address inside the payload (MQTT). Transports strip it before a
// fetched message reaches the connection layer.
type Message struct {
	Content  Map    `json:"content"`
	Subject  string `json:"subject,omitempty"`
	Instance string `json:"instance,omitempty"`
	ReplyTo  string `json:"reply-to,omitempty"`
}

// DecodeMessage parses a JSON bus message. A missing content object is
// replaced by an empty map.
func DecodeMessage(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("decoding bus message: %w", err)
	}
	if m.Content == nil {
		m.Content = Map{}
	}
	return m, nil
}

// Command returns the "command" value of the content, or "".
func (m Message) Command() string {
	s, _ := m.Content["command"].(string)
	return s
}

// UUID returns the "uuid" value of the content, or "".
func (m Message) UUID() string {
	s, _ := m.Content["uuid"].(string)
	return s
}
