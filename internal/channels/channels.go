// Package channels holds one adapter per delivery channel. Adapters share a
// uniform Result so the orchestrator can fan out and aggregate without caring
// which provider sits behind a channel.
package channels

import (
	"transit-notifications/internal/common/metrics"
)

const (
	outcomeSent    = "sent"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
)

// Result is the per-channel outcome of one delivery attempt. Skipped marks
// deliberate non-delivery (opt-out, disabled channel, nothing to send to) as
// opposed to a failure.
type Result struct {
	Channel string                 `json:"channel"`
	Success bool                   `json:"success"`
	Skipped bool                   `json:"skipped,omitempty"`
	Reason  string                 `json:"reason,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Detail  map[string]interface{} `json:"detail,omitempty"`
}

func sent(channel string, detail map[string]interface{}) Result {
	metrics.ChannelDeliveries.WithLabelValues(channel, outcomeSent).Inc()
	return Result{Channel: channel, Success: true, Detail: detail}
}

func failed(channel string, errMsg string, detail map[string]interface{}) Result {
	metrics.ChannelDeliveries.WithLabelValues(channel, outcomeFailed).Inc()
	return Result{Channel: channel, Error: errMsg, Detail: detail}
}

func skipped(channel string, reason string) Result {
	metrics.ChannelDeliveries.WithLabelValues(channel, outcomeSkipped).Inc()
	return Result{Channel: channel, Skipped: true, Reason: reason}
}
