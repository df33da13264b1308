package transport

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Conn defines the interface for the underlying WebSocket connection.
// This allows for proper mocking in tests.
type Conn interface {
	// WriteMessage writes a message with the given message type and payload
	WriteMessage(messageType int, data []byte) error

	// ReadMessage reads a message from the connection
	ReadMessage() (messageType int, p []byte, err error)

	// Close closes the connection
	Close() error

	// SetReadDeadline sets the read deadline on the connection
	SetReadDeadline(t time.Time) error

	// SetWriteDeadline sets the write deadline on the connection
	SetWriteDeadline(t time.Time) error

	// SetPongHandler sets the handler for pong messages
	SetPongHandler(h func(string) error)
}

// Dialer opens WebSocket connections. The production implementation wraps
// gorilla's dialer; tests substitute a scripted one.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// NewDialer returns a Dialer backed by gorilla/websocket.
func NewDialer() Dialer {
	return &gorillaDialer{dialer: websocket.DefaultDialer}
}

type gorillaDialer struct {
	dialer *websocket.Dialer
}

func (g *gorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := g.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}
