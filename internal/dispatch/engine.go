// Package dispatch is the single funnel between the engine and the push
// gateway. It owns batching, the per-minute rate ceiling, the invalid-token
// cache, retry with backoff, and error classification. Callers never talk to
// the gateway SDK directly.
package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"firebase.google.com/go/v4/messaging"

	"transit-notifications/internal/common/errors"
	"transit-notifications/internal/common/logger"
	"transit-notifications/internal/common/metrics"
	"transit-notifications/internal/models"
)

const (
	maxBatchSize = 500
	// Cheap structural gate before any cache or gateway work.
	minDispatchTokenLength = 10

	defaultRequestTimeout = 30 * time.Second
)

// Messaging is the gateway surface the engine needs; *messaging.Client
// satisfies it.
type Messaging interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Engine struct {
	client    Messaging
	limiter   *RateLimiter
	invalid   *InvalidTokenCache
	policy    RetryPolicy
	batchSize int
	timeout   time.Duration
	log       logger.Logger

	// classify maps raw gateway errors onto the engine taxonomy; injectable
	// for tests.
	classify func(error) *errors.StandardError
}

func New(client Messaging, limiter *RateLimiter, invalid *InvalidTokenCache,
	policy RetryPolicy, batchSize int, timeout time.Duration, log logger.Logger) *Engine {

	if batchSize <= 0 || batchSize > maxBatchSize {
		batchSize = maxBatchSize
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Engine{
		client:    client,
		limiter:   limiter,
		invalid:   invalid,
		policy:    policy,
		batchSize: batchSize,
		timeout:   timeout,
		log:       log,
		classify:  classifyGatewayError,
	}
}

// Initialized reports whether a gateway client is attached. An engine without
// one skips push delivery instead of failing the caller.
func (e *Engine) Initialized() bool {
	return e.client != nil
}

// SendSingle delivers one message to one device token.
func (e *Engine) SendSingle(ctx context.Context, token string, content models.PushContent,
	payload *models.DataPayload, priority models.Priority) models.DispatchResult {

	if !e.Initialized() {
		return skippedResult()
	}
	if !plausibleToken(token) {
		return models.DispatchResult{
			FailureCount: 1,
			Error:        "token failed structural validation",
			ErrorCode:    string(errors.ErrCodeInvalidTokenFormat),
		}
	}

	if cached, err := e.invalid.Contains(ctx, token); err != nil {
		e.log.Warn("Invalid-token cache read failed, proceeding", map[string]interface{}{
			"error": err.Error(),
		})
	} else if cached {
		return models.DispatchResult{
			FailureCount:  1,
			Error:         "token cached as invalid",
			ErrorCode:     string(errors.ErrCodeInvalidToken),
			InvalidTokens: []string{token},
		}
	}

	if result, ok := e.reserve(ctx, 1); !ok {
		return result
	}

	msg := e.buildMessage(content, payload, priority)
	msg.Token = token

	start := time.Now()
	var messageID string
	err := e.policy.Do(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		id, sendErr := e.client.Send(callCtx, msg)
		if sendErr != nil {
			return e.classify(sendErr)
		}
		messageID = id
		return nil
	})
	metrics.DispatchDuration.WithLabelValues("single").Observe(time.Since(start).Seconds())

	if err != nil {
		return e.singleFailure(ctx, token, err)
	}

	metrics.DispatchSent.WithLabelValues("single").Inc()
	return models.DispatchResult{
		Success:      true,
		MessageID:    messageID,
		SuccessCount: 1,
	}
}

// SendMulticast delivers one message to many tokens, batching at the gateway
// ceiling. A failing sub-batch is absorbed into the counts and never aborts
// the remaining batches.
func (e *Engine) SendMulticast(ctx context.Context, tokens []string, content models.PushContent,
	payload *models.DataPayload, priority models.Priority) models.DispatchResult {

	if !e.Initialized() {
		return skippedResult()
	}
	if len(tokens) == 0 {
		return models.DispatchResult{Success: true}
	}

	valid, preInvalid := e.screenTokens(ctx, tokens)

	result := models.DispatchResult{
		FailureCount:  len(tokens) - len(valid),
		InvalidTokens: preInvalid,
	}
	if len(valid) == 0 {
		result.Error = "no sendable tokens after filtering"
		result.ErrorCode = string(errors.ErrCodeInvalidToken)
		return result
	}

	if rlResult, ok := e.reserve(ctx, len(valid)); !ok {
		rlResult.FailureCount += result.FailureCount
		rlResult.InvalidTokens = result.InvalidTokens
		return rlResult
	}

	var newlyInvalid []string
	start := time.Now()
	for begin := 0; begin < len(valid); begin += e.batchSize {
		end := begin + e.batchSize
		if end > len(valid) {
			end = len(valid)
		}
		chunk := valid[begin:end]

		msg := &messaging.MulticastMessage{
			Tokens:       chunk,
			Notification: e.buildNotification(content),
			Android:      e.buildAndroidConfig(content, priority),
			Data:         flattenPayload(payload),
		}

		var resp *messaging.BatchResponse
		err := e.policy.Do(ctx, func() error {
			callCtx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()

			r, sendErr := e.client.SendEachForMulticast(callCtx, msg)
			if sendErr != nil {
				return e.classify(sendErr)
			}
			resp = r
			return nil
		})
		if err != nil {
			stdErr := errors.Normalize(err)
			result.FailureCount += len(chunk)
			result.Error = stdErr.Message
			result.ErrorCode = string(stdErr.Code)
			metrics.DispatchFailed.WithLabelValues("multicast", string(stdErr.Code)).Add(float64(len(chunk)))
			e.log.Error("Multicast sub-batch failed", map[string]interface{}{
				"tokens":    len(chunk),
				"errorCode": string(stdErr.Code),
				"details":   stdErr.Details,
			})
			continue
		}

		result.SuccessCount += resp.SuccessCount
		result.FailureCount += resp.FailureCount
		for i, sr := range resp.Responses {
			if sr.Error == nil {
				continue
			}
			stdErr := e.classify(sr.Error)
			metrics.DispatchFailed.WithLabelValues("multicast", string(stdErr.Code)).Inc()
			if isPermanentTarget(stdErr.Code) && i < len(chunk) {
				newlyInvalid = append(newlyInvalid, chunk[i])
			}
		}
	}
	metrics.DispatchDuration.WithLabelValues("multicast").Observe(time.Since(start).Seconds())
	metrics.DispatchSent.WithLabelValues("multicast").Add(float64(result.SuccessCount))

	if len(newlyInvalid) > 0 {
		metrics.InvalidTokensDetected.Add(float64(len(newlyInvalid)))
		if err := e.invalid.Add(ctx, newlyInvalid...); err != nil {
			e.log.Warn("Failed to cache invalid tokens", map[string]interface{}{
				"count": len(newlyInvalid),
				"error": err.Error(),
			})
		}
		result.InvalidTokens = append(result.InvalidTokens, newlyInvalid...)
	}

	result.Success = result.SuccessCount > 0
	return result
}

// SendTopic delivers to a topic or condition subscription.
func (e *Engine) SendTopic(ctx context.Context, topic, condition string, content models.PushContent,
	payload *models.DataPayload) models.DispatchResult {

	if !e.Initialized() {
		return skippedResult()
	}
	if topic == "" && condition == "" {
		return models.DispatchResult{
			FailureCount: 1,
			Error:        "topic or condition required",
			ErrorCode:    string(errors.ErrCodeInvalidRecipient),
		}
	}

	if result, ok := e.reserve(ctx, 1); !ok {
		return result
	}

	msg := e.buildMessage(content, payload, models.PriorityNormal)
	msg.Topic = topic
	msg.Condition = condition

	start := time.Now()
	var messageID string
	err := e.policy.Do(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		id, sendErr := e.client.Send(callCtx, msg)
		if sendErr != nil {
			return e.classify(sendErr)
		}
		messageID = id
		return nil
	})
	metrics.DispatchDuration.WithLabelValues("topic").Observe(time.Since(start).Seconds())

	if err != nil {
		stdErr := errors.Normalize(err)
		metrics.DispatchFailed.WithLabelValues("topic", string(stdErr.Code)).Inc()
		return models.DispatchResult{
			FailureCount: 1,
			Error:        stdErr.Message,
			ErrorCode:    string(stdErr.Code),
		}
	}

	metrics.DispatchSent.WithLabelValues("topic").Inc()
	return models.DispatchResult{Success: true, MessageID: messageID, SuccessCount: 1}
}

// Stats exposes the engine's operational state to the health monitor.
func (e *Engine) Stats(ctx context.Context) map[string]interface{} {
	stats := map[string]interface{}{
		"initialized": e.Initialized(),
		"batch_size":  e.batchSize,
	}
	if e.limiter != nil {
		stats["rate_limit"] = e.limiter.Limit()
		stats["current_minute_count"] = e.limiter.CurrentCount(ctx)
	}
	if e.invalid != nil {
		stats["invalid_tokens_cached"] = e.invalid.Count(ctx)
	}
	return stats
}

func (e *Engine) reserve(ctx context.Context, n int) (models.DispatchResult, bool) {
	allowed, err := e.limiter.Reserve(ctx, n)
	if err != nil {
		e.log.Warn("Rate limiter unavailable, proceeding", map[string]interface{}{
			"error": err.Error(),
		})
		return models.DispatchResult{}, true
	}
	if !allowed {
		metrics.RateLimitRejections.Inc()
		stdErr := errors.NewRateLimitExceededError(e.limiter.Limit())
		return models.DispatchResult{
			FailureCount: n,
			Error:        stdErr.Message,
			ErrorCode:    string(stdErr.Code),
		}, false
	}
	return models.DispatchResult{}, true
}

// screenTokens drops structurally bad and cached-invalid tokens before the
// gateway sees them.
func (e *Engine) screenTokens(ctx context.Context, tokens []string) (sendable, invalid []string) {
	plausible := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if plausibleToken(t) {
			plausible = append(plausible, t)
		}
	}

	valid, cached, err := e.invalid.Filter(ctx, plausible)
	if err != nil {
		e.log.Warn("Invalid-token cache read failed, proceeding", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return valid, cached
}

func (e *Engine) singleFailure(ctx context.Context, token string, err error) models.DispatchResult {
	stdErr := errors.Normalize(err)
	metrics.DispatchFailed.WithLabelValues("single", string(stdErr.Code)).Inc()

	result := models.DispatchResult{
		FailureCount: 1,
		Error:        stdErr.Message,
		ErrorCode:    string(stdErr.Code),
	}
	if isPermanentTarget(stdErr.Code) {
		result.InvalidTokens = []string{token}
		metrics.InvalidTokensDetected.Inc()
		if cacheErr := e.invalid.Add(ctx, token); cacheErr != nil {
			e.log.Warn("Failed to cache invalid token", map[string]interface{}{
				"error": cacheErr.Error(),
			})
		}
	}
	return result
}

func (e *Engine) buildMessage(content models.PushContent, payload *models.DataPayload,
	priority models.Priority) *messaging.Message {
	return &messaging.Message{
		Notification: e.buildNotification(content),
		Android:      e.buildAndroidConfig(content, priority),
		Data:         flattenPayload(payload),
	}
}

func (e *Engine) buildNotification(content models.PushContent) *messaging.Notification {
	return &messaging.Notification{
		Title:    content.Title,
		Body:     content.Body,
		ImageURL: content.Image,
	}
}

func (e *Engine) buildAndroidConfig(content models.PushContent, priority models.Priority) *messaging.AndroidConfig {
	androidPriority := "normal"
	if priority == models.PriorityHigh {
		androidPriority = "high"
	}
	return &messaging.AndroidConfig{
		Priority: androidPriority,
		Notification: &messaging.AndroidNotification{
			Icon:        content.Icon,
			Color:       content.Color,
			Sound:       content.Sound,
			Tag:         content.Tag,
			ClickAction: content.ClickAction,
			ChannelID:   content.ChannelID,
		},
	}
}

// flattenPayload converts the structured payload into the string map the
// gateway requires.
func flattenPayload(payload *models.DataPayload) map[string]string {
	if payload == nil {
		return nil
	}
	data := map[string]string{
		"action": payload.Action,
		"screen": payload.Screen,
	}
	for k, v := range payload.Data {
		if v == nil {
			continue
		}
		data[k] = fmt.Sprintf("%v", v)
	}
	return data
}

func plausibleToken(token string) bool {
	return len(token) > minDispatchTokenLength && strings.Contains(token, ":")
}

func isPermanentTarget(code errors.ErrorCode) bool {
	return code == errors.ErrCodeInvalidToken || code == errors.ErrCodeSenderMismatch
}

func skippedResult() models.DispatchResult {
	stdErr := errors.NewGatewayNotInitializedError()
	return models.DispatchResult{
		Skipped:   true,
		Error:     stdErr.Message,
		ErrorCode: string(stdErr.Code),
	}
}

// classifyGatewayError maps raw SDK errors onto the engine taxonomy. Unknown
// errors default to transient so the retry policy gets a chance.
func classifyGatewayError(err error) *errors.StandardError {
	switch {
	case messaging.IsUnregistered(err):
		return errors.NewInvalidTokenError(err.Error())
	case messaging.IsSenderIDMismatch(err):
		return errors.NewSenderMismatchError(err.Error())
	case messaging.IsQuotaExceeded(err):
		return errors.NewQuotaExceededError(err)
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewDispatchTimeoutError(err)
	case messaging.IsUnavailable(err), messaging.IsInternal(err):
		return errors.NewTransientSendError(err)
	default:
		return errors.NewTransientSendError(err)
	}
}
