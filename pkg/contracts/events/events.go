// Package events contains the wire contract for WebSocket communication
// between the demo platform's broadcaster and its clients.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType defines the type of WebSocket message.
type MessageType string

const (
	// Server-to-client message types.
	MessageTypePipelineUpdate   MessageType = "pipeline_update"
	MessageTypeTestUpdate       MessageType = "test_update"
	MessageTypeError            MessageType = "error"
	MessageTypeConnectionStatus MessageType = "connection_status"

	// Client-to-server control messages.
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypePing        MessageType = "ping"

	// MessageTypeWildcard matches every message type when used as a
	// dispatcher registration key.
	MessageTypeWildcard MessageType = "*"
)

// Well-known channel names.
const (
	ChannelPipeline = "pipeline"
	ChannelTests    = "tests"
)

// Message is the envelope for every frame on the wire. Messages are
// immutable once received.
type Message struct {
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	ID        string          `json:"id,omitempty"`
}

// NewMessage builds a message envelope with a fresh ID and the payload
// marshaled into Data. A nil payload leaves Data empty.
func NewMessage(msgType MessageType, payload interface{}) (Message, error) {
	msg := Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		ID:        uuid.New().String(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
		msg.Data = data
	}
	return msg, nil
}

// DecodeData unmarshals the message payload into v.
func (m Message) DecodeData(v interface{}) error {
	return json.Unmarshal(m.Data, v)
}

// PipelineUpdate is the payload broadcast on the pipeline channel for every
// step transition. Data carries the step output on completion, or the error
// detail on failure.
type PipelineUpdate struct {
	PipelineID string      `json:"pipelineId"`
	StepID     string      `json:"stepId"`
	Progress   int         `json:"progress"`
	Status     string      `json:"status"`
	Data       interface{} `json:"data,omitempty"`
}

// TestUpdate is the payload broadcast on the tests channel by the platform's
// mock test-report generator.
type TestUpdate struct {
	SuiteID  string `json:"suiteId"`
	Passed   int    `json:"passed"`
	Failed   int    `json:"failed"`
	Duration string `json:"duration,omitempty"`
}

// ConnectionStatus is the payload of the client-local connection_status
// message emitted by the transport client on every status transition.
type ConnectionStatus struct {
	Status    string `json:"status"` // connecting|connected|disconnected|error
	Attempt   int    `json:"attempt,omitempty"`
	LastError string `json:"lastError,omitempty"`
}

// ErrorPayload is the payload of error messages pushed by the broadcaster.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Retry   bool   `json:"retry"`
}
