// Package server hosts the broadcaster side of the demo platform: a
// websocket hub that fans pipeline updates out to subscribed clients,
// plus the HTTP API that triggers executions.
package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"eltpulse/internal/infrastructure"
	"eltpulse/pkg/contracts/events"
)

// Hub maintains the set of active clients and routes messages to the
// clients subscribed to each channel.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound messages awaiting fan-out
	broadcast chan events.Message

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	mu sync.RWMutex

	logger *slog.Logger

	// Metrics
	totalConnections int64
	messagesSent     int64
	messagesReceived int64

	// Control
	quit    chan struct{}
	running bool
}

// NewHub creates a new Hub instance with dependency injection.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	logger = logger.With(slog.String("component", "server.hub"))

	return &Hub{
		broadcast:  make(chan events.Message, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		logger:     logger,
		quit:       make(chan struct{}),
	}
}

// Start starts the hub's main loop.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.Run()
}

// Run processes register, unregister, and broadcast events until Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.logger.Info("hub shutting down")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.totalConnections++
			h.mu.Unlock()

			h.logger.Info("client registered",
				slog.Int("total_clients", count),
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr))
			connectionsGauge.Set(float64(count))
			connectionsTotal.Inc()

			h.sendConnectionStatus(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()

			h.logger.Info("client unregistered",
				slog.Int("total_clients", count),
				slog.String("client_id", client.id))
			connectionsGauge.Set(float64(count))

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

// Send queues a message for fan-out. It satisfies pipeline.Sender so the
// update publisher can feed the hub directly.
func (h *Hub) Send(msg events.Message) {
	select {
	case h.broadcast <- msg:
	case <-h.quit:
	}
}

// fanOut delivers msg to every client subscribed to its channel. A
// message with no channel goes to all clients.
func (h *Hub) fanOut(msg events.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast message",
			slog.String("type", string(msg.Type)),
			slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if msg.Channel == "" || client.subscribed(msg.Channel) {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		select {
		case client.send <- data:
			sent++
		default:
			// Slow consumer: drop it rather than block the hub.
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Warn("client send buffer full, disconnecting",
				slog.String("client_id", client.id))
		}
	}

	h.mu.Lock()
	h.messagesSent += int64(sent)
	h.mu.Unlock()
	messagesSentTotal.Add(float64(sent))

	h.logger.Debug("broadcast delivered",
		slog.String("type", string(msg.Type)),
		slog.String("channel", msg.Channel),
		slog.Int("recipients", sent))
}

// sendConnectionStatus greets a newly registered client.
func (h *Hub) sendConnectionStatus(client *Client) {
	msg, err := events.NewMessage(events.MessageTypeConnectionStatus, events.ConnectionStatus{
		Status: "connected",
	})
	if err != nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case client.send <- data:
	default:
		h.logger.Warn("connection greeting dropped, client buffer full",
			slog.String("client_id", client.id))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount returns the number of clients subscribed to channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for client := range h.clients {
		if client.subscribed(channel) {
			n++
		}
	}
	return n
}

// Register adds a client to the hub. It is a no-op once the hub has
// stopped.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
	}
}

// Stop gracefully stops the hub and disconnects all clients.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.quit)

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	connectionsGauge.Set(0)
}
