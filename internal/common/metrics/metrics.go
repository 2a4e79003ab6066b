// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_dispatch_sent_total",
			Help: "Total number of gateway messages delivered, by dispatch kind",
		},
		[]string{"kind"},
	)

	DispatchFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_dispatch_failed_total",
			Help: "Total number of gateway messages failed, by dispatch kind and error code",
		},
		[]string{"kind", "error_code"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "notification_dispatch_duration_seconds",
			Help: "Duration of gateway dispatch calls in seconds",
		},
		[]string{"kind"},
	)

	InvalidTokensDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_invalid_tokens_total",
			Help: "Total number of device tokens reported invalid by the gateway",
		},
	)

	RateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_rate_limited_total",
			Help: "Total number of dispatches rejected by the per-minute ceiling",
		},
	)

	ChannelDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_channel_deliveries_total",
			Help: "Per-channel delivery outcomes",
		},
		[]string{"channel", "outcome"},
	)

	SchedulerProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_items_processed_total",
			Help: "Total number of scheduled notifications successfully processed",
		},
	)

	SchedulerFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_items_failed_total",
			Help: "Total number of scheduled notifications that failed processing",
		},
	)
)
