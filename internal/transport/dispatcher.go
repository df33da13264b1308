package transport

import (
	"log/slog"
	"sync"

	"eltpulse/pkg/contracts/events"
)

// Handler receives a dispatched message. Handlers must not block; dispatch
// is synchronous and fire-and-forget.
type Handler func(msg events.Message)

type handlerEntry struct {
	id int
	fn Handler
}

// Dispatcher routes inbound messages to handlers registered per message
// type, then to wildcard handlers. Delivery is in registration order.
type Dispatcher struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[events.MessageType][]handlerEntry
	wildcard []handlerEntry
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher with the given logger.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[events.MessageType][]handlerEntry),
		logger:   logger.With(slog.String("component", "transport.dispatcher")),
	}
}

// On registers a handler for the given message type and returns a
// registration ID for On's counterpart Off. Registering with
// events.MessageTypeWildcard delivers every message regardless of type.
func (d *Dispatcher) On(msgType events.MessageType, fn Handler) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	entry := handlerEntry{id: d.nextID, fn: fn}
	if msgType == events.MessageTypeWildcard {
		d.wildcard = append(d.wildcard, entry)
	} else {
		d.handlers[msgType] = append(d.handlers[msgType], entry)
	}
	return entry.id
}

// Off removes the handler registered under id for the given type.
func (d *Dispatcher) Off(msgType events.MessageType, id int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if msgType == events.MessageTypeWildcard {
		d.wildcard = removeEntry(d.wildcard, id)
		return
	}
	d.handlers[msgType] = removeEntry(d.handlers[msgType], id)
}

// Dispatch delivers msg to every handler registered for its type, then to
// every wildcard handler. A panicking handler is isolated so it cannot
// block delivery to the others.
func (d *Dispatcher) Dispatch(msg events.Message) {
	d.mu.RLock()
	typed := make([]handlerEntry, len(d.handlers[msg.Type]))
	copy(typed, d.handlers[msg.Type])
	wild := make([]handlerEntry, len(d.wildcard))
	copy(wild, d.wildcard)
	d.mu.RUnlock()

	for _, entry := range typed {
		d.invoke(entry, msg)
	}
	for _, entry := range wild {
		d.invoke(entry, msg)
	}
}

// HandlerCount reports the number of handlers registered for a type.
func (d *Dispatcher) HandlerCount(msgType events.MessageType) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if msgType == events.MessageTypeWildcard {
		return len(d.wildcard)
	}
	return len(d.handlers[msgType])
}

func (d *Dispatcher) invoke(entry handlerEntry, msg events.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("message handler panicked",
				slog.String("message_type", string(msg.Type)),
				slog.Int("handler_id", entry.id),
				slog.Any("panic", r))
		}
	}()
	entry.fn(msg)
}

func removeEntry(entries []handlerEntry, id int) []handlerEntry {
	for i, e := range entries {
		if e.id == id {
			return append(entries[:i], entries[i+1:]...)
		}
	}
	return entries
}
