package server

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eltpulse/pkg/contracts/events"
)

// fakeConn is a scriptable Connection for pump tests.
type fakeConn struct {
	mu      sync.Mutex
	inbound chan []byte
	written [][]byte
	closed  bool
	closeCh chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closeCh: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.inbound:
		return 1, data, nil
	case <-f.closeCh:
		return 0, nil, errors.New("connection closed")
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	f.written = append(f.written, buf)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.closeCh)
	}
	return nil
}

func (f *fakeConn) SetReadLimit(int64)                {}
func (f *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}
func (f *fakeConn) RemoteAddr() string                { return "test:0" }

func (f *fakeConn) writtenFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}

// queueControl feeds a control message to the read pump.
func (f *fakeConn) queueControl(t *testing.T, msgType events.MessageType, channel string) {
	t.Helper()
	data, err := json.Marshal(events.Message{Type: msgType, Channel: channel})
	require.NoError(t, err)
	f.inbound <- data
}

func startClient(t *testing.T, hub *Hub) (*Client, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	client := NewClientWithConnection(hub, conn, nil)
	hub.Register(client)
	go client.WritePump()
	go client.ReadPump()
	t.Cleanup(func() { conn.Close() })
	return client, conn
}

func waitForFrame(t *testing.T, conn *fakeConn, want events.MessageType) events.Message {
	t.Helper()
	var found events.Message
	require.Eventually(t, func() bool {
		for _, frame := range conn.writtenFrames() {
			var msg events.Message
			if json.Unmarshal(frame, &msg) == nil && msg.Type == want {
				found = msg
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "frame of type %s never written", want)
	return found
}

func TestHubRegisterSendsGreeting(t *testing.T) {
	hub := NewHub(nil)
	hub.Start()
	defer hub.Stop()

	_, conn := startClient(t, hub)

	msg := waitForFrame(t, conn, events.MessageTypeConnectionStatus)
	var status events.ConnectionStatus
	require.NoError(t, msg.DecodeData(&status))
	assert.Equal(t, "connected", status.Status)
	assert.Equal(t, 1, hub.ClientCount())
}

func TestHubRoutesByChannel(t *testing.T) {
	hub := NewHub(nil)
	hub.Start()
	defer hub.Stop()

	subscriber, subConn := startClient(t, hub)
	_, otherConn := startClient(t, hub)

	subConn.queueControl(t, events.MessageTypeSubscribe, events.ChannelPipeline)
	require.Eventually(t, func() bool {
		return subscriber.subscribed(events.ChannelPipeline)
	}, 2*time.Second, 10*time.Millisecond)

	update, err := events.NewMessage(events.MessageTypePipelineUpdate, events.PipelineUpdate{PipelineID: "exec-1"})
	require.NoError(t, err)
	update.Channel = events.ChannelPipeline
	hub.Send(update)

	waitForFrame(t, subConn, events.MessageTypePipelineUpdate)

	// The unsubscribed client only ever sees its greeting.
	time.Sleep(50 * time.Millisecond)
	for _, frame := range otherConn.writtenFrames() {
		var msg events.Message
		require.NoError(t, json.Unmarshal(frame, &msg))
		assert.NotEqual(t, events.MessageTypePipelineUpdate, msg.Type,
			"unsubscribed clients must not receive channel messages")
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(nil)
	hub.Start()
	defer hub.Stop()

	client, conn := startClient(t, hub)

	conn.queueControl(t, events.MessageTypeSubscribe, events.ChannelPipeline)
	require.Eventually(t, func() bool {
		return client.subscribed(events.ChannelPipeline)
	}, 2*time.Second, 10*time.Millisecond)

	conn.queueControl(t, events.MessageTypeUnsubscribe, events.ChannelPipeline)
	require.Eventually(t, func() bool {
		return !client.subscribed(events.ChannelPipeline)
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, hub.SubscriberCount(events.ChannelPipeline))
}

func TestHubBroadcastWithoutChannelReachesEveryone(t *testing.T) {
	hub := NewHub(nil)
	hub.Start()
	defer hub.Stop()

	_, connA := startClient(t, hub)
	_, connB := startClient(t, hub)

	msg, err := events.NewMessage(events.MessageTypeError, events.ErrorPayload{Code: "X", Message: "broadcast"})
	require.NoError(t, err)
	hub.Send(msg)

	waitForFrame(t, connA, events.MessageTypeError)
	waitForFrame(t, connB, events.MessageTypeError)
}

func TestHubMalformedClientFrameIgnored(t *testing.T) {
	hub := NewHub(nil)
	hub.Start()
	defer hub.Stop()

	client, conn := startClient(t, hub)

	conn.inbound <- []byte("{garbage")
	conn.queueControl(t, events.MessageTypeSubscribe, events.ChannelPipeline)

	require.Eventually(t, func() bool {
		return client.subscribed(events.ChannelPipeline)
	}, 2*time.Second, 10*time.Millisecond, "valid control after garbage still handled")
}

func TestHubClientDisconnectUnregisters(t *testing.T) {
	hub := NewHub(nil)
	hub.Start()
	defer hub.Stop()

	_, conn := startClient(t, hub)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReadPumpExitsAfterHubStop(t *testing.T) {
	hub := NewHub(nil)
	hub.Start()

	conn := newFakeConn()
	client := NewClientWithConnection(hub, conn, nil)
	hub.Register(client)
	go client.WritePump()

	done := make(chan struct{})
	go func() {
		client.ReadPump()
		close(done)
	}()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Stop first, then drop the connection: the pump's unregister has
	// no hub loop left to receive it and must not block on it.
	hub.Stop()
	conn.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("read pump never returned after hub stop")
	}

	assert.Equal(t, 0, hub.ClientCount())
}

func TestRegisterAfterStopDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)
	hub.Start()
	hub.Stop()

	done := make(chan struct{})
	go func() {
		hub.Register(NewClientWithConnection(hub, newFakeConn(), nil))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("register blocked on a stopped hub")
	}
	assert.Equal(t, 0, hub.ClientCount())
}
