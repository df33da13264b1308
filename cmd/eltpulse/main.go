// The eltpulse client connects to a running broadcaster, subscribes to
// the pipeline channel, and prints pipeline updates as they stream in.
// It demonstrates the transport client's reconnect and dispatch behavior
// against a live peer.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"eltpulse/internal/config"
	"eltpulse/internal/infrastructure"
	"eltpulse/internal/transport"
	"eltpulse/pkg/contracts/events"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	url := flag.String("url", "", "broadcaster websocket URL (overrides config)")
	flag.Parse()

	if err := run(*configPath, *url); err != nil {
		slog.Error("client failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath, url string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if url != "" {
		cfg.Transport.URL = url
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	client := transport.NewClient(transport.Options{
		URL:                  cfg.Transport.URL,
		ReconnectBase:        cfg.Transport.ReconnectBase,
		ReconnectCap:         cfg.Transport.ReconnectCap,
		MaxReconnectAttempts: cfg.Transport.MaxReconnectAttempts,
		PingInterval:         cfg.Transport.PingInterval,
		WriteWait:            cfg.Transport.WriteWait,
		Logger:               logger,
	})

	client.On(events.MessageTypePipelineUpdate, func(msg events.Message) {
		var update events.PipelineUpdate
		if err := msg.DecodeData(&update); err != nil {
			logger.Warn("undecodable pipeline update", slog.String("error", err.Error()))
			return
		}
		fmt.Printf("[%s] step=%s progress=%d%% status=%s\n",
			update.PipelineID, update.StepID, update.Progress, update.Status)
	})

	client.On(events.MessageTypeConnectionStatus, func(msg events.Message) {
		var status events.ConnectionStatus
		if err := msg.DecodeData(&status); err != nil {
			return
		}
		logger.Info("connection status changed",
			slog.String("status", status.Status),
			slog.Int("attempt", status.Attempt))
	})

	if err := client.Connect(); err != nil {
		// The reconnect cycle is already running; just note it.
		logger.Warn("initial connect failed, retrying in background",
			slog.String("error", err.Error()))
	}
	defer client.Disconnect()

	client.Subscribe(events.ChannelPipeline)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("client exiting")
	return nil
}
