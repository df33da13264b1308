// Package transport maintains the client's live WebSocket channel to the
// broadcaster: connection lifecycle, exponential-backoff reconnection,
// liveness pings, and per-channel subscription bookkeeping.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"eltpulse/internal/clock"
	"eltpulse/pkg/contracts/events"
)

// Status is the connection status of the transport client.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

const dialTimeout = 10 * time.Second

// Options configures a transport client.
type Options struct {
	URL                  string
	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	MaxReconnectAttempts int
	PingInterval         time.Duration
	WriteWait            time.Duration

	Dialer     Dialer
	Clock      clock.Clock
	Dispatcher *Dispatcher
	Logger     *slog.Logger
}

// Client owns one logical connection to the broadcaster. All methods are
// safe for concurrent use; transport errors never escape as panics or
// returned exceptions, only as status transitions.
type Client struct {
	opts       Options
	dialer     Dialer
	clock      clock.Clock
	dispatcher *Dispatcher
	logger     *slog.Logger

	mu            sync.Mutex
	conn          Conn
	gen           int
	status        Status
	subscriptions map[string]struct{}
	attempts      int
	lastBackoff   time.Duration
	manualClose   bool
	reconnect     clock.Timer
	pingTicker    clock.Ticker
}

// NewClient creates a transport client. Zero-valued options fall back to
// production defaults.
func NewClient(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = NewDialer()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = time.Second
	}
	if opts.ReconnectCap <= 0 {
		opts.ReconnectCap = 30 * time.Second
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 10
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	logger := opts.Logger.With(slog.String("component", "transport.client"))
	if opts.Dispatcher == nil {
		opts.Dispatcher = NewDispatcher(opts.Logger)
	}

	return &Client{
		opts:          opts,
		dialer:        opts.Dialer,
		clock:         opts.Clock,
		dispatcher:    opts.Dispatcher,
		logger:        logger,
		status:        StatusDisconnected,
		subscriptions: make(map[string]struct{}),
	}
}

// Dispatcher returns the message dispatcher consumers register handlers on.
func (c *Client) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// On registers a handler for the given message type.
func (c *Client) On(msgType events.MessageType, fn Handler) int {
	return c.dispatcher.On(msgType, fn)
}

// Off removes a previously registered handler.
func (c *Client) Off(msgType events.MessageType, id int) {
	c.dispatcher.Off(msgType, id)
}

// Connect opens the connection. It is idempotent: a no-op while already
// connecting or connected. A dial failure starts the backoff reconnect
// cycle and is also returned to the caller.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.status == StatusConnected || c.status == StatusConnecting {
		c.mu.Unlock()
		return nil
	}
	c.manualClose = false
	c.attempts = 0
	c.lastBackoff = 0
	c.status = StatusConnecting
	c.mu.Unlock()

	c.emitStatus(StatusConnecting, 0, "")
	return c.dial()
}

// Disconnect closes the connection and suppresses auto-reconnect. The
// attempt counter and the subscription set are reset.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manualClose = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	if c.pingTicker != nil {
		c.pingTicker.Stop()
		c.pingTicker = nil
	}
	conn := c.conn
	c.conn = nil
	c.gen++
	c.attempts = 0
	c.lastBackoff = 0
	c.subscriptions = make(map[string]struct{})
	c.status = StatusDisconnected
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.logger.Info("transport disconnected by caller")
	c.emitStatus(StatusDisconnected, 0, "")
}

// Subscribe adds a channel to the subscription set and, when connected,
// sends the subscribe control message. Subscriptions are replayed in full
// on every successful (re)connection.
func (c *Client) Subscribe(channel string) {
	c.mu.Lock()
	c.subscriptions[channel] = struct{}{}
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if connected {
		c.sendControl(events.MessageTypeSubscribe, channel)
	}
}

// Unsubscribe removes a channel from the subscription set and, when
// connected, sends the unsubscribe control message.
func (c *Client) Unsubscribe(channel string) {
	c.mu.Lock()
	_, had := c.subscriptions[channel]
	delete(c.subscriptions, channel)
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if had && connected {
		c.sendControl(events.MessageTypeUnsubscribe, channel)
	}
}

// Send writes a message to the broadcaster. It is a silent no-op when not
// connected; transport failures are logged, never returned.
func (c *Client) Send(msg events.Message) {
	c.mu.Lock()
	conn := c.conn
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		c.logger.Debug("send dropped, not connected",
			slog.String("message_type", string(msg.Type)))
		return
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = c.clock.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal outbound message",
			slog.String("message_type", string(msg.Type)),
			slog.String("error", err.Error()))
		return
	}

	conn.SetWriteDeadline(c.clock.Now().Add(c.opts.WriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Warn("failed to write message",
			slog.String("message_type", string(msg.Type)),
			slog.String("error", err.Error()))
	}
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Subscriptions returns the channels currently in the subscription set,
// sorted for stable output.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	channels := make([]string, 0, len(c.subscriptions))
	for ch := range c.subscriptions {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	return channels
}

// ReconnectAttempts returns the current reconnect attempt counter.
func (c *Client) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Client) dial() error {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, err := c.dialer.Dial(ctx, c.opts.URL)
	if err != nil {
		c.logger.Warn("dial failed",
			slog.String("url", c.opts.URL),
			slog.String("error", err.Error()))
		c.handleDialFailure(err)
		return err
	}

	c.mu.Lock()
	if c.manualClose {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.gen++
	gen := c.gen
	c.attempts = 0
	c.lastBackoff = 0
	c.status = StatusConnected
	ticker := c.clock.NewTicker(c.opts.PingInterval)
	c.pingTicker = ticker
	channels := make([]string, 0, len(c.subscriptions))
	for ch := range c.subscriptions {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	sort.Strings(channels)
	c.logger.Info("transport connected",
		slog.String("url", c.opts.URL),
		slog.Int("subscriptions", len(channels)))
	c.emitStatus(StatusConnected, 0, "")

	// Replay the retained subscription set.
	for _, ch := range channels {
		c.sendControl(events.MessageTypeSubscribe, ch)
	}

	go c.readLoop(conn, gen)
	go c.pingLoop(ticker, gen)
	return nil
}

func (c *Client) handleDialFailure(err error) {
	c.mu.Lock()
	if c.manualClose {
		c.mu.Unlock()
		return
	}
	c.status = StatusDisconnected
	c.scheduleReconnectLocked(err)
	c.mu.Unlock()
}

// scheduleReconnectLocked arms the backoff timer. Caller holds c.mu.
func (c *Client) scheduleReconnectLocked(cause error) {
	c.attempts++
	if c.attempts > c.opts.MaxReconnectAttempts {
		c.status = StatusError
		attempts := c.attempts
		c.logger.Error("reconnect attempts exhausted",
			slog.Int("attempts", attempts-1),
			slog.String("last_error", errString(cause)))
		go c.emitStatus(StatusError, attempts-1, errString(cause))
		return
	}

	delay := c.backoffDelay(c.attempts)
	c.lastBackoff = delay
	attempt := c.attempts
	c.logger.Info("scheduling reconnect",
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay))
	c.reconnect = c.clock.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.manualClose || c.status == StatusConnected {
			c.mu.Unlock()
			return
		}
		c.status = StatusConnecting
		attempt := c.attempts
		c.mu.Unlock()
		c.emitStatus(StatusConnecting, attempt, "")
		c.dial()
	})
}

// backoffDelay returns min(base * 2^(attempt-1), cap).
func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.opts.ReconnectBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.opts.ReconnectCap {
			return c.opts.ReconnectCap
		}
	}
	if delay > c.opts.ReconnectCap {
		return c.opts.ReconnectCap
	}
	return delay
}

func (c *Client) readLoop(conn Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClosed(gen, err)
			return
		}

		var msg events.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed payloads are logged and dropped, never
			// propagated to handlers.
			c.logger.Warn("dropping malformed frame",
				slog.Int("size", len(data)),
				slog.String("error", err.Error()))
			continue
		}
		if msg.Type == "" {
			c.logger.Warn("dropping frame without type", slog.Int("size", len(data)))
			continue
		}
		c.dispatcher.Dispatch(msg)
	}
}

func (c *Client) pingLoop(ticker clock.Ticker, gen int) {
	for range ticker.C() {
		c.mu.Lock()
		stale := c.gen != gen || c.status != StatusConnected
		c.mu.Unlock()
		if stale {
			return
		}
		c.sendControl(events.MessageTypePing, "")
	}
}

// handleClosed reacts to a connection loss observed by the read loop.
func (c *Client) handleClosed(gen int, cause error) {
	c.mu.Lock()
	if c.gen != gen {
		// A newer connection superseded this one already.
		c.mu.Unlock()
		return
	}
	if c.pingTicker != nil {
		c.pingTicker.Stop()
		c.pingTicker = nil
	}
	conn := c.conn
	c.conn = nil
	manual := c.manualClose
	c.status = StatusDisconnected
	if !manual {
		c.scheduleReconnectLocked(cause)
	}
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if !manual {
		c.logger.Warn("connection lost",
			slog.String("error", errString(cause)))
		c.emitStatus(StatusDisconnected, 0, errString(cause))
	}
}

func (c *Client) sendControl(msgType events.MessageType, channel string) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	msg := events.Message{
		Type:      msgType,
		Channel:   channel,
		Timestamp: c.clock.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	conn.SetWriteDeadline(c.clock.Now().Add(c.opts.WriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug("control message write failed",
			slog.String("message_type", string(msgType)),
			slog.String("error", err.Error()))
	}
}

// emitStatus dispatches a client-local connection_status message so UI
// code observes lifecycle transitions without touching transport errors.
func (c *Client) emitStatus(status Status, attempt int, lastErr string) {
	payload := events.ConnectionStatus{
		Status:    string(status),
		Attempt:   attempt,
		LastError: lastErr,
	}
	msg, err := events.NewMessage(events.MessageTypeConnectionStatus, payload)
	if err != nil {
		return
	}
	msg.Timestamp = c.clock.Now().UTC()
	c.dispatcher.Dispatch(msg)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
