package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eltpulse_ws_connections",
		Help: "Number of websocket clients currently connected.",
	})

	connectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eltpulse_ws_connections_total",
		Help: "Total websocket connections accepted since start.",
	})

	messagesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eltpulse_ws_messages_sent_total",
		Help: "Total messages delivered to websocket clients.",
	})

	messagesReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eltpulse_ws_messages_received_total",
		Help: "Total messages received from websocket clients.",
	})

	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eltpulse_executions_total",
		Help: "Pipeline executions by terminal status.",
	}, []string{"status"})

	executionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eltpulse_execution_duration_seconds",
		Help:    "Wall-clock duration of pipeline executions.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)
