package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageCarriesPayload(t *testing.T) {
	msg, err := NewMessage(MessageTypePipelineUpdate, PipelineUpdate{
		PipelineID: "exec-1",
		StepID:     "extract",
		Progress:   55,
		Status:     "running",
	})
	require.NoError(t, err)

	assert.Equal(t, MessageTypePipelineUpdate, msg.Type)
	assert.False(t, msg.Timestamp.IsZero())
	assert.NotEmpty(t, msg.ID)

	other, err := NewMessage(MessageTypePipelineUpdate, nil)
	require.NoError(t, err)
	assert.NotEqual(t, msg.ID, other.ID, "every message gets its own ID")

	var update PipelineUpdate
	require.NoError(t, msg.DecodeData(&update))
	assert.Equal(t, "exec-1", update.PipelineID)
	assert.Equal(t, 55, update.Progress)
}

func TestNewMessageNilPayload(t *testing.T) {
	msg, err := NewMessage(MessageTypePing, nil)
	require.NoError(t, err)
	assert.Empty(t, msg.Data)
}

func TestMessageWireFormat(t *testing.T) {
	msg, err := NewMessage(MessageTypeSubscribe, nil)
	require.NoError(t, err)
	msg.Channel = ChannelPipeline

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "subscribe", decoded["type"])
	assert.Equal(t, "pipeline", decoded["channel"])
	assert.NotContains(t, decoded, "data", "empty payload is omitted on the wire")
}

func TestDecodeDataMismatch(t *testing.T) {
	msg := Message{Type: MessageTypePipelineUpdate, Data: json.RawMessage(`{"progress":"high"}`)}

	var update PipelineUpdate
	assert.Error(t, msg.DecodeData(&update))
}
