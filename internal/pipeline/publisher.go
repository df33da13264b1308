package pipeline

import (
	"log/slog"

	"golang.org/x/time/rate"

	"eltpulse/pkg/contracts/events"
)

// Publisher receives pipeline progress updates as the engine produces
// them. Implementations must not block: the engine calls Publish from its
// execution loop.
type Publisher interface {
	Publish(update events.PipelineUpdate)
}

// NopPublisher discards all updates.
type NopPublisher struct{}

func (NopPublisher) Publish(events.PipelineUpdate) {}

// Sender is the transport-facing half of the publisher. The websocket
// client and the server hub both satisfy it.
type Sender interface {
	Send(msg events.Message)
}

// TransportPublisher forwards engine updates onto the pipeline channel as
// pipeline_update messages. Intermediate progress ticks are rate limited
// so a fast virtual clock cannot flood the wire; terminal states always
// go out.
type TransportPublisher struct {
	sender  Sender
	logger  *slog.Logger
	limiter *rate.Limiter
}

// NewTransportPublisher wraps sender. Updates beyond 20 per second are
// dropped unless they carry a terminal status.
func NewTransportPublisher(sender Sender, logger *slog.Logger) *TransportPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransportPublisher{
		sender:  sender,
		logger:  logger.With(slog.String("component", "pipeline.publisher")),
		limiter: rate.NewLimiter(rate.Limit(20), 40),
	}
}

func (p *TransportPublisher) Publish(update events.PipelineUpdate) {
	if !terminalStatus(update.Status) && !p.limiter.Allow() {
		return
	}

	msg, err := events.NewMessage(events.MessageTypePipelineUpdate, update)
	if err != nil {
		p.logger.Error("encode pipeline update",
			slog.String("pipeline_id", update.PipelineID),
			slog.String("error", err.Error()))
		return
	}
	msg.Channel = events.ChannelPipeline
	p.sender.Send(msg)
}

func terminalStatus(status string) bool {
	switch ExecutionStatus(status) {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	switch StepStatus(status) {
	case StepStatusCompleted, StepStatusFailed:
		return true
	}
	return false
}
