// Package metrics defines the application's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session lifecycle metrics
var (
	// SessionsByStatus tracks the number of sessions in each lifecycle state
	SessionsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_sessions",
			Help: "Number of sessions by lifecycle status",
		},
		[]string{"status"},
	)

	// ReconnectAttemptsTotal counts reconnect attempts across all sessions
	ReconnectAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_reconnect_attempts_total",
			Help: "Total reconnect attempts across all sessions",
		},
	)

	// SessionsClosedTotal counts terminal session closes by reason
	SessionsClosedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_sessions_closed_total",
			Help: "Terminal session closes by reason",
		},
		[]string{"reason"},
	)

	// QRCodesGeneratedTotal counts pairing codes presented to callers
	QRCodesGeneratedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_qr_codes_generated_total",
			Help: "Total pairing QR codes generated",
		},
	)
)

// Message pipeline metrics
var (
	// MessagesReceivedTotal counts inbound messages entering the pipeline
	MessagesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_messages_received_total",
			Help: "Total inbound messages processed by the pipeline",
		},
	)

	// RepliesSentTotal counts outbound replies by kind (template/default/absence)
	RepliesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_replies_sent_total",
			Help: "Outbound replies by kind",
		},
		[]string{"kind"},
	)

	// PipelineErrorsTotal counts recovered pipeline failures
	PipelineErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_pipeline_errors_total",
			Help: "Recovered failures inside the message pipeline",
		},
	)

	// PendingReplies tracks currently scheduled delayed replies
	PendingReplies = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_pending_replies",
			Help: "Currently scheduled delayed replies",
		},
	)

	// SendDuration tracks outbound send latency in seconds
	SendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bot_send_duration_seconds",
			Help:    "Outbound send duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)
)

// Store metrics
var (
	// StoreOpsTotal tracks keyed store operations by operation and status
	StoreOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_store_operations_total",
			Help: "Keyed store operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// SettingsUpdatesTotal counts settings updates applied
	SettingsUpdatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_settings_updates_total",
			Help: "Settings updates applied",
		},
	)

	// PubSubMessagesReceived counts pub/sub fan-out messages by channel
	PubSubMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_pubsub_messages_received_total",
			Help: "Pub/sub messages received by channel",
		},
		[]string{"channel"},
	)
)

// Dashboard hub metrics
var (
	// HubConnectedClients tracks currently connected dashboard clients
	HubConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_hub_connected_clients",
			Help: "Currently connected dashboard websocket clients",
		},
	)

	// HubSlowClientsEvicted counts clients dropped for not keeping up
	HubSlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_hub_slow_clients_evicted_total",
			Help: "Dashboard clients evicted for slow consumption",
		},
	)
)
