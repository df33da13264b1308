package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"eltpulse/internal/infrastructure"
	"eltpulse/pkg/contracts/events"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

// Connection is the subset of *websocket.Conn the client pumps need, so
// tests can substitute a mock.
type Connection interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	RemoteAddr() string
}

// connWrapper adapts *websocket.Conn to the Connection interface.
type connWrapper struct {
	*websocket.Conn
}

func (w connWrapper) RemoteAddr() string {
	return w.Conn.RemoteAddr().String()
}

// Client is a middleman between one websocket connection and the hub. It
// tracks the channels the peer has subscribed to.
type Client struct {
	hub *Hub

	conn Connection

	// Buffered channel of outbound messages
	send chan []byte

	// Client metadata
	id          string
	remoteAddr  string
	connectedAt time.Time

	// Channels the peer has subscribed to
	subMu         sync.RWMutex
	subscriptions map[string]struct{}

	logger *slog.Logger
}

// NewClient creates a client for a live websocket connection.
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	return NewClientWithConnection(hub, connWrapper{conn}, logger)
}

// NewClientWithConnection creates a client with a custom connection (for testing).
func NewClientWithConnection(hub *Hub, conn Connection, logger *slog.Logger) *Client {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	id := uuid.New().String()
	logger = logger.With(
		slog.String("component", "server.client"),
		slog.String("client_id", id),
	)

	return &Client{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		id:            id,
		remoteAddr:    conn.RemoteAddr(),
		connectedAt:   time.Now(),
		subscriptions: make(map[string]struct{}),
		logger:        logger,
	}
}

func (c *Client) subscribed(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// ReadPump pumps control messages from the websocket connection to the
// client's subscription state.
func (c *Client) ReadPump() {
	defer func() {
		c.logger.Info("client disconnected",
			slog.Duration("connection_duration", time.Since(c.connectedAt)))
		// A stopped hub no longer drains unregister; Stop cleans up
		// remaining clients itself.
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("unexpected close", slog.String("error", err.Error()))
			}
			break
		}

		c.hub.mu.Lock()
		c.hub.messagesReceived++
		c.hub.mu.Unlock()
		messagesReceivedTotal.Inc()

		var msg events.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping malformed message", slog.String("error", err.Error()))
			continue
		}
		c.handleControl(msg)
	}
}

// handleControl processes subscribe, unsubscribe, and ping messages.
// Everything else from the peer is ignored.
func (c *Client) handleControl(msg events.Message) {
	switch msg.Type {
	case events.MessageTypeSubscribe:
		if msg.Channel == "" {
			return
		}
		c.subMu.Lock()
		c.subscriptions[msg.Channel] = struct{}{}
		c.subMu.Unlock()
		c.logger.Debug("subscribed", slog.String("channel", msg.Channel))

	case events.MessageTypeUnsubscribe:
		if msg.Channel == "" {
			return
		}
		c.subMu.Lock()
		delete(c.subscriptions, msg.Channel)
		c.subMu.Unlock()
		c.logger.Debug("unsubscribed", slog.String("channel", msg.Channel))

	case events.MessageTypePing:
		// Keep-alive at the message level; the read deadline was already
		// refreshed by receiving it.
		c.logger.Debug("ping received")

	default:
		c.logger.Debug("ignoring client message", slog.String("type", string(msg.Type)))
	}
}

// WritePump pumps messages from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.Info("write pump stopped")
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error("write failed", slog.String("error", err.Error()))
				return
			}

			// Drain any queued messages as separate frames
			n := len(c.send)
			for i := 0; i < n; i++ {
				select {
				case msg := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						c.logger.Error("write failed", slog.String("error", err.Error()))
						return
					}
				default:
				}
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// ServeWS attaches a freshly upgraded connection to the hub and starts
// its pumps.
func ServeWS(hub *Hub, conn *websocket.Conn, logger *slog.Logger) {
	client := NewClient(hub, conn, logger)
	client.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}
