package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	liveSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "messaging",
		Name:      "live_sessions",
		Help:      "Live connections registered on this instance.",
	})
	onlineUsersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "messaging",
		Name:      "online_users",
		Help:      "Users with at least one live connection on this instance.",
	})
	messagesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "messaging",
		Name:      "messages_sent_total",
		Help:      "Messages persisted, by entry point.",
	}, []string{"source"})
	livePushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "messaging",
		Name:      "live_pushes_total",
		Help:      "Live channel pushes, by event type and outcome.",
	}, []string{"event", "outcome"})
	notificationsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "messaging",
		Name:      "notifications_created_total",
		Help:      "Notifications persisted, by type.",
	}, []string{"type"})
	receiptsRelayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "messaging",
		Name:      "receipts_relayed_total",
		Help:      "Delivered receipts relayed to senders.",
	})
)
