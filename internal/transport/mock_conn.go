package transport

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MockConn is a mock implementation of the Conn interface for testing.
type MockConn struct {
	mu sync.Mutex

	// WriteMessage behavior
	WriteMessageFunc func(messageType int, data []byte) error
	WrittenMessages  []MockMessage

	// ReadMessage behavior: reads block on the inbound channel until a
	// frame is queued with QueueRead or the connection is closed.
	inbound chan MockMessage

	// Close behavior
	CloseFunc func() error
	closed    bool
	closeCh   chan struct{}

	ReadDeadline  time.Time
	WriteDeadline time.Time
	PongHandler   func(string) error
}

// MockMessage represents a frame for mocking.
type MockMessage struct {
	Type int
	Data []byte
	Err  error
}

// NewMockConn creates a new mock connection.
func NewMockConn() *MockConn {
	return &MockConn{
		inbound: make(chan MockMessage, 64),
		closeCh: make(chan struct{}),
	}
}

// WriteMessage implements Conn.WriteMessage.
func (m *MockConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("connection closed")
	}
	if m.WriteMessageFunc != nil {
		return m.WriteMessageFunc(messageType, data)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.WrittenMessages = append(m.WrittenMessages, MockMessage{Type: messageType, Data: buf})
	return nil
}

// ReadMessage implements Conn.ReadMessage.
func (m *MockConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-m.inbound:
		return msg.Type, msg.Data, msg.Err
	case <-m.closeCh:
		return 0, nil, errors.New("connection closed")
	}
}

// Close implements Conn.Close.
func (m *MockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	if !m.closed {
		m.closed = true
		close(m.closeCh)
	}
	return nil
}

// SetReadDeadline implements Conn.SetReadDeadline.
func (m *MockConn) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadDeadline = t
	return nil
}

// SetWriteDeadline implements Conn.SetWriteDeadline.
func (m *MockConn) SetWriteDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteDeadline = t
	return nil
}

// SetPongHandler implements Conn.SetPongHandler.
func (m *MockConn) SetPongHandler(h func(string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PongHandler = h
}

// QueueRead queues a frame to be returned by a pending or future ReadMessage.
func (m *MockConn) QueueRead(messageType int, data []byte, err error) {
	m.inbound <- MockMessage{Type: messageType, Data: data, Err: err}
}

// FailRead unblocks the read loop with an error, simulating an unexpected
// connection drop.
func (m *MockConn) FailRead(err error) {
	m.inbound <- MockMessage{Err: err}
}

// Written returns a copy of all frames written to the connection.
func (m *MockConn) Written() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockMessage, len(m.WrittenMessages))
	copy(out, m.WrittenMessages)
	return out
}

// Closed reports whether Close was called.
func (m *MockConn) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockDialer returns scripted connections in order, then errors. A nil
// entry in Conns produces a dial failure.
type MockDialer struct {
	mu    sync.Mutex
	Conns []*MockConn
	Errs  []error
	calls int
}

// Dial implements Dialer.
func (d *MockDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx := d.calls
	d.calls++
	var err error
	if idx < len(d.Errs) {
		err = d.Errs[idx]
	}
	if err != nil {
		return nil, err
	}
	if idx < len(d.Conns) && d.Conns[idx] != nil {
		return d.Conns[idx], nil
	}
	return nil, errors.New("no scripted connection")
}

// Calls reports how many times Dial was invoked.
func (d *MockDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}
