package channels

import (
	"context"

	"transit-notifications/internal/common/logger"
	"transit-notifications/internal/models"
)

// Dispatcher is the slice of the dispatch engine the push adapter needs.
type Dispatcher interface {
	SendMulticast(ctx context.Context, tokens []string, content models.PushContent,
		payload *models.DataPayload, priority models.Priority) models.DispatchResult
}

// TokenSource is the slice of the token registry the push adapter needs.
type TokenSource interface {
	ActiveTokensFor(ctx context.Context, userID string) ([]models.DeviceToken, error)
	DeactivateInvalid(ctx context.Context, tokens []string) (int64, error)
	MarkUsed(ctx context.Context, tokens []string) error
}

// PushChannel resolves a user's device tokens, hands them to the dispatch
// engine, and feeds invalid-token verdicts back into the registry.
type PushChannel struct {
	dispatcher Dispatcher
	tokens     TokenSource
	log        logger.Logger
}

func NewPushChannel(dispatcher Dispatcher, tokens TokenSource, log logger.Logger) *PushChannel {
	return &PushChannel{dispatcher: dispatcher, tokens: tokens, log: log}
}

func (c *PushChannel) Deliver(ctx context.Context, userID string, content models.PushContent,
	payload *models.DataPayload, priority models.Priority) Result {

	devices, err := c.tokens.ActiveTokensFor(ctx, userID)
	if err != nil {
		return failed(models.ChannelPush, err.Error(), nil)
	}
	if len(devices) == 0 {
		return skipped(models.ChannelPush, "no active device tokens")
	}

	tokens := make([]string, len(devices))
	for i, d := range devices {
		tokens[i] = d.Token
	}

	result := c.dispatcher.SendMulticast(ctx, tokens, content, payload, priority)

	if len(result.InvalidTokens) > 0 {
		if _, deactErr := c.tokens.DeactivateInvalid(ctx, result.InvalidTokens); deactErr != nil {
			c.log.Error("Failed to deactivate invalid tokens", map[string]interface{}{
				"userId": userID,
				"count":  len(result.InvalidTokens),
				"error":  deactErr.Error(),
			})
		}
	}

	detail := map[string]interface{}{
		"tokens":        len(tokens),
		"success_count": result.SuccessCount,
		"failure_count": result.FailureCount,
	}

	if result.Skipped {
		return skipped(models.ChannelPush, result.Error)
	}
	if !result.Success {
		return failed(models.ChannelPush, result.Error, detail)
	}

	if err := c.tokens.MarkUsed(ctx, liveTokens(tokens, result.InvalidTokens)); err != nil {
		c.log.Warn("Failed to update token usage timestamps", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}
	return sent(models.ChannelPush, detail)
}

func liveTokens(all, invalid []string) []string {
	if len(invalid) == 0 {
		return all
	}
	dead := make(map[string]struct{}, len(invalid))
	for _, t := range invalid {
		dead[t] = struct{}{}
	}
	live := make([]string, 0, len(all))
	for _, t := range all {
		if _, ok := dead[t]; !ok {
			live = append(live, t)
		}
	}
	return live
}
