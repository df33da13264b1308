package transport

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eltpulse/internal/clock"
	"eltpulse/pkg/contracts/events"
)

func newTestClient(t *testing.T, dialer *MockDialer, fc *clock.Fake) *Client {
	t.Helper()
	return NewClient(Options{
		URL:                  "ws://broadcaster.test/ws",
		ReconnectBase:        time.Second,
		ReconnectCap:         30 * time.Second,
		MaxReconnectAttempts: 3,
		PingInterval:         30 * time.Second,
		Dialer:               dialer,
		Clock:                fc,
	})
}

// decodeWritten unmarshals every frame written to the mock connection.
func decodeWritten(t *testing.T, conn *MockConn) []events.Message {
	t.Helper()
	written := conn.Written()
	out := make([]events.Message, 0, len(written))
	for _, frame := range written {
		var msg events.Message
		require.NoError(t, json.Unmarshal(frame.Data, &msg))
		out = append(out, msg)
	}
	return out
}

func TestConnectTransitionsToConnected(t *testing.T) {
	conn := NewMockConn()
	dialer := &MockDialer{Conns: []*MockConn{conn}}
	c := newTestClient(t, dialer, clock.NewFake())

	require.NoError(t, c.Connect())

	assert.Equal(t, StatusConnected, c.Status())
	assert.Equal(t, 1, dialer.Calls())
}

func TestConnectIsIdempotentWhileConnected(t *testing.T) {
	conn := NewMockConn()
	dialer := &MockDialer{Conns: []*MockConn{conn}}
	c := newTestClient(t, dialer, clock.NewFake())

	require.NoError(t, c.Connect())
	require.NoError(t, c.Connect())
	require.NoError(t, c.Connect())

	assert.Equal(t, 1, dialer.Calls(), "repeated Connect must not dial again")
}

func TestSubscribeBeforeConnectReplaysOnConnect(t *testing.T) {
	conn := NewMockConn()
	dialer := &MockDialer{Conns: []*MockConn{conn}}
	c := newTestClient(t, dialer, clock.NewFake())

	c.Subscribe(events.ChannelPipeline)
	c.Subscribe(events.ChannelTests)
	require.NoError(t, c.Connect())

	msgs := decodeWritten(t, conn)
	require.Len(t, msgs, 2)
	var channels []string
	for _, msg := range msgs {
		assert.Equal(t, events.MessageTypeSubscribe, msg.Type)
		channels = append(channels, msg.Channel)
	}
	assert.ElementsMatch(t, []string{events.ChannelPipeline, events.ChannelTests}, channels)
}

func TestSubscribeWhileConnectedSendsControl(t *testing.T) {
	conn := NewMockConn()
	dialer := &MockDialer{Conns: []*MockConn{conn}}
	c := newTestClient(t, dialer, clock.NewFake())
	require.NoError(t, c.Connect())

	c.Subscribe(events.ChannelPipeline)
	c.Unsubscribe(events.ChannelPipeline)

	msgs := decodeWritten(t, conn)
	require.Len(t, msgs, 2)
	assert.Equal(t, events.MessageTypeSubscribe, msgs[0].Type)
	assert.Equal(t, events.MessageTypeUnsubscribe, msgs[1].Type)
	assert.Empty(t, c.Subscriptions())
}

func TestUnsubscribeUnknownChannelSendsNothing(t *testing.T) {
	conn := NewMockConn()
	dialer := &MockDialer{Conns: []*MockConn{conn}}
	c := newTestClient(t, dialer, clock.NewFake())
	require.NoError(t, c.Connect())

	c.Unsubscribe("never-subscribed")

	assert.Empty(t, conn.Written())
}

func TestSendWhileDisconnectedIsSilentNoop(t *testing.T) {
	c := newTestClient(t, &MockDialer{}, clock.NewFake())

	msg, err := events.NewMessage(events.MessageTypePipelineUpdate, nil)
	require.NoError(t, err)
	c.Send(msg)

	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestInboundMessagesReachHandlers(t *testing.T) {
	conn := NewMockConn()
	dialer := &MockDialer{Conns: []*MockConn{conn}}
	c := newTestClient(t, dialer, clock.NewFake())

	got := make(chan events.Message, 1)
	c.On(events.MessageTypePipelineUpdate, func(msg events.Message) {
		got <- msg
	})
	require.NoError(t, c.Connect())

	frame, err := json.Marshal(events.Message{Type: events.MessageTypePipelineUpdate, Channel: events.ChannelPipeline})
	require.NoError(t, err)
	conn.QueueRead(1, frame, nil)

	select {
	case msg := <-got:
		assert.Equal(t, events.ChannelPipeline, msg.Channel)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never received the message")
	}
}

func TestMalformedInboundFrameIsDropped(t *testing.T) {
	conn := NewMockConn()
	dialer := &MockDialer{Conns: []*MockConn{conn}}
	c := newTestClient(t, dialer, clock.NewFake())

	got := make(chan events.Message, 2)
	c.On(events.MessageTypeWildcard, func(msg events.Message) {
		if msg.Type != events.MessageTypeConnectionStatus {
			got <- msg
		}
	})
	require.NoError(t, c.Connect())

	conn.QueueRead(1, []byte("{not json"), nil)
	frame, err := json.Marshal(events.Message{Type: events.MessageTypeError})
	require.NoError(t, err)
	conn.QueueRead(1, frame, nil)

	select {
	case msg := <-got:
		assert.Equal(t, events.MessageTypeError, msg.Type, "only the valid frame is dispatched")
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame never dispatched")
	}
	assert.Empty(t, got)
}

func TestConnectionLossSchedulesBackoffReconnect(t *testing.T) {
	first := NewMockConn()
	second := NewMockConn()
	dialer := &MockDialer{Conns: []*MockConn{first, second}}
	fc := clock.NewFake()
	c := newTestClient(t, dialer, fc)

	c.Subscribe(events.ChannelPipeline)
	require.NoError(t, c.Connect())

	first.FailRead(errors.New("connection reset"))
	require.Eventually(t, func() bool {
		return c.ReconnectAttempts() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StatusDisconnected, c.Status())

	// First retry fires after the base delay.
	fc.Advance(time.Second)
	require.Eventually(t, func() bool {
		return c.Status() == StatusConnected
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, dialer.Calls())
	assert.Equal(t, 0, c.ReconnectAttempts(), "attempt counter resets on success")

	// Subscription replayed on the new connection.
	msgs := decodeWritten(t, second)
	require.NotEmpty(t, msgs)
	assert.Equal(t, events.MessageTypeSubscribe, msgs[0].Type)
	assert.Equal(t, events.ChannelPipeline, msgs[0].Channel)
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	c := newTestClient(t, &MockDialer{}, clock.NewFake())

	assert.Equal(t, 1*time.Second, c.backoffDelay(1))
	assert.Equal(t, 2*time.Second, c.backoffDelay(2))
	assert.Equal(t, 4*time.Second, c.backoffDelay(3))
	assert.Equal(t, 16*time.Second, c.backoffDelay(5))
	assert.Equal(t, 30*time.Second, c.backoffDelay(6), "capped at the reconnect ceiling")
	assert.Equal(t, 30*time.Second, c.backoffDelay(20))
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	dialErr := errors.New("connection refused")
	dialer := &MockDialer{Errs: []error{dialErr, dialErr, dialErr, dialErr, dialErr}}
	fc := clock.NewFake()
	c := newTestClient(t, dialer, fc)

	statuses := make(chan events.ConnectionStatus, 16)
	c.On(events.MessageTypeConnectionStatus, func(msg events.Message) {
		var s events.ConnectionStatus
		if err := msg.DecodeData(&s); err == nil {
			statuses <- s
		}
	})

	require.Error(t, c.Connect())

	// Attempts 2 and 3 fire from the backoff timer; the next failure
	// exceeds MaxReconnectAttempts=3 and latches the error state.
	for i := 0; i < 4; i++ {
		fc.Advance(30 * time.Second)
	}

	require.Eventually(t, func() bool {
		return c.Status() == StatusError
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 4, dialer.Calls(), "initial dial plus three retries")

	var sawError bool
	deadline := time.After(2 * time.Second)
	for !sawError {
		select {
		case s := <-statuses:
			if s.Status == string(StatusError) {
				sawError = true
				assert.Equal(t, dialErr.Error(), s.LastError)
			}
		case <-deadline:
			t.Fatal("error status never emitted")
		}
	}
}

func TestDisconnectSuppressesReconnectAndClearsSubscriptions(t *testing.T) {
	conn := NewMockConn()
	dialer := &MockDialer{Conns: []*MockConn{conn}}
	fc := clock.NewFake()
	c := newTestClient(t, dialer, fc)

	c.Subscribe(events.ChannelPipeline)
	require.NoError(t, c.Connect())

	c.Disconnect()

	assert.Equal(t, StatusDisconnected, c.Status())
	assert.True(t, conn.Closed())
	assert.Empty(t, c.Subscriptions())

	// No reconnect regardless of how far time advances.
	fc.Advance(5 * time.Minute)
	assert.Equal(t, 1, dialer.Calls())
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestConnectAfterDisconnectDialsFresh(t *testing.T) {
	dialer := &MockDialer{Conns: []*MockConn{NewMockConn(), NewMockConn()}}
	c := newTestClient(t, dialer, clock.NewFake())

	require.NoError(t, c.Connect())
	c.Disconnect()
	require.NoError(t, c.Connect())

	assert.Equal(t, StatusConnected, c.Status())
	assert.Equal(t, 2, dialer.Calls())
}

func TestPingLoopSendsKeepAlive(t *testing.T) {
	conn := NewMockConn()
	dialer := &MockDialer{Conns: []*MockConn{conn}}
	fc := clock.NewFake()
	c := newTestClient(t, dialer, fc)

	require.NoError(t, c.Connect())
	fc.Advance(30 * time.Second)

	require.Eventually(t, func() bool {
		for _, frame := range conn.Written() {
			var msg events.Message
			if json.Unmarshal(frame.Data, &msg) == nil && msg.Type == events.MessageTypePing {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}
