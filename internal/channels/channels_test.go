package channels

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-notifications/internal/common/logger"
	"transit-notifications/internal/models"
)

type MockDispatcher struct {
	SendMulticastFunc func(ctx context.Context, tokens []string, content models.PushContent,
		payload *models.DataPayload, priority models.Priority) models.DispatchResult
	calls [][]string
}

func (m *MockDispatcher) SendMulticast(ctx context.Context, tokens []string, content models.PushContent,
	payload *models.DataPayload, priority models.Priority) models.DispatchResult {
	m.calls = append(m.calls, tokens)
	if m.SendMulticastFunc != nil {
		return m.SendMulticastFunc(ctx, tokens, content, payload, priority)
	}
	return models.DispatchResult{Success: true, SuccessCount: len(tokens)}
}

type MockTokenSource struct {
	ActiveTokensForFunc   func(ctx context.Context, userID string) ([]models.DeviceToken, error)
	DeactivateInvalidFunc func(ctx context.Context, tokens []string) (int64, error)

	deactivated []string
	markedUsed  []string
}

func (m *MockTokenSource) ActiveTokensFor(ctx context.Context, userID string) ([]models.DeviceToken, error) {
	if m.ActiveTokensForFunc != nil {
		return m.ActiveTokensForFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockTokenSource) DeactivateInvalid(ctx context.Context, tokens []string) (int64, error) {
	m.deactivated = append(m.deactivated, tokens...)
	if m.DeactivateInvalidFunc != nil {
		return m.DeactivateInvalidFunc(ctx, tokens)
	}
	return int64(len(tokens)), nil
}

func (m *MockTokenSource) MarkUsed(ctx context.Context, tokens []string) error {
	m.markedUsed = append(m.markedUsed, tokens...)
	return nil
}

func deviceTokens(tokens ...string) []models.DeviceToken {
	out := make([]models.DeviceToken, len(tokens))
	for i, t := range tokens {
		out[i] = models.DeviceToken{UserID: "user-1", Token: t, Platform: models.PlatformAndroid, Active: true}
	}
	return out
}

func TestPushChannel_DeliversToAllTokens(t *testing.T) {
	dispatcher := &MockDispatcher{}
	source := &MockTokenSource{
		ActiveTokensForFunc: func(ctx context.Context, userID string) ([]models.DeviceToken, error) {
			return deviceTokens("tok-a:1", "tok-b:2"), nil
		},
	}
	channel := NewPushChannel(dispatcher, source, logger.NewTestLogger(t))

	result := channel.Deliver(context.Background(), "user-1", models.PushContent{Title: "Hi"}, nil, models.PriorityNormal)

	assert.True(t, result.Success)
	assert.Equal(t, models.ChannelPush, result.Channel)
	require.Len(t, dispatcher.calls, 1)
	assert.Equal(t, []string{"tok-a:1", "tok-b:2"}, dispatcher.calls[0])
	assert.Equal(t, []string{"tok-a:1", "tok-b:2"}, source.markedUsed)
}

func TestPushChannel_NoTokensIsSkipped(t *testing.T) {
	dispatcher := &MockDispatcher{}
	source := &MockTokenSource{}
	channel := NewPushChannel(dispatcher, source, logger.NewTestLogger(t))

	result := channel.Deliver(context.Background(), "user-1", models.PushContent{}, nil, models.PriorityNormal)

	assert.True(t, result.Skipped)
	assert.Equal(t, "no active device tokens", result.Reason)
	assert.Empty(t, dispatcher.calls)
}

func TestPushChannel_DeactivatesInvalidTokens(t *testing.T) {
	dispatcher := &MockDispatcher{
		SendMulticastFunc: func(ctx context.Context, tokens []string, _ models.PushContent,
			_ *models.DataPayload, _ models.Priority) models.DispatchResult {
			return models.DispatchResult{
				Success:       true,
				SuccessCount:  1,
				FailureCount:  1,
				InvalidTokens: []string{"tok-b:2"},
			}
		},
	}
	source := &MockTokenSource{
		ActiveTokensForFunc: func(ctx context.Context, userID string) ([]models.DeviceToken, error) {
			return deviceTokens("tok-a:1", "tok-b:2"), nil
		},
	}
	channel := NewPushChannel(dispatcher, source, logger.NewTestLogger(t))

	result := channel.Deliver(context.Background(), "user-1", models.PushContent{}, nil, models.PriorityNormal)

	assert.True(t, result.Success)
	assert.Equal(t, []string{"tok-b:2"}, source.deactivated)
	assert.Equal(t, []string{"tok-a:1"}, source.markedUsed, "dead tokens must not get usage updates")
}

func TestPushChannel_DispatchFailure(t *testing.T) {
	dispatcher := &MockDispatcher{
		SendMulticastFunc: func(ctx context.Context, tokens []string, _ models.PushContent,
			_ *models.DataPayload, _ models.Priority) models.DispatchResult {
			return models.DispatchResult{Success: false, FailureCount: 1, Error: "quota exceeded"}
		},
	}
	source := &MockTokenSource{
		ActiveTokensForFunc: func(ctx context.Context, userID string) ([]models.DeviceToken, error) {
			return deviceTokens("tok-a:1"), nil
		},
	}
	channel := NewPushChannel(dispatcher, source, logger.NewTestLogger(t))

	result := channel.Deliver(context.Background(), "user-1", models.PushContent{}, nil, models.PriorityNormal)

	assert.False(t, result.Success)
	assert.Equal(t, "quota exceeded", result.Error)
	assert.Empty(t, source.markedUsed)
}

func TestPushChannel_GatewayNotInitializedIsSkipped(t *testing.T) {
	dispatcher := &MockDispatcher{
		SendMulticastFunc: func(ctx context.Context, tokens []string, _ models.PushContent,
			_ *models.DataPayload, _ models.Priority) models.DispatchResult {
			return models.DispatchResult{Skipped: true, Error: "push gateway not initialized"}
		},
	}
	source := &MockTokenSource{
		ActiveTokensForFunc: func(ctx context.Context, userID string) ([]models.DeviceToken, error) {
			return deviceTokens("tok-a:1"), nil
		},
	}
	channel := NewPushChannel(dispatcher, source, logger.NewTestLogger(t))

	result := channel.Deliver(context.Background(), "user-1", models.PushContent{}, nil, models.PriorityNormal)

	assert.True(t, result.Skipped)
	assert.False(t, result.Success)
}

type MockSESService struct {
	SendEmailFunc func(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error)
	inputs        []*ses.SendEmailInput
}

func (m *MockSESService) SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error) {
	m.inputs = append(m.inputs, input)
	if m.SendEmailFunc != nil {
		return m.SendEmailFunc(ctx, input)
	}
	return &ses.SendEmailOutput{MessageId: aws.String("ses-msg-1")}, nil
}

func optedInUser() *models.User {
	return &models.User{
		ID:         "user-1",
		Email:      "rider@example.com",
		Phone:      "+15550100",
		EmailOptIn: true,
		SMSOptIn:   true,
	}
}

func TestEmailChannel_SendsViaSES(t *testing.T) {
	mock := &MockSESService{}
	channel := NewEmailChannel(mock, "noreply@transit.example.com", true, logger.NewTestLogger(t))

	result := channel.Deliver(context.Background(), optedInUser(), "Bus 101 Arriving", "Arriving in 5 minutes")

	assert.True(t, result.Success)
	assert.Equal(t, "ses-msg-1", result.Detail["message_id"])
	require.Len(t, mock.inputs, 1)
	input := mock.inputs[0]
	assert.Equal(t, "noreply@transit.example.com", *input.Source)
	assert.Equal(t, []string{"rider@example.com"}, input.Destination.ToAddresses)
	assert.Equal(t, "Bus 101 Arriving", *input.Message.Subject.Data)
}

func TestEmailChannel_Gates(t *testing.T) {
	optedOut := optedInUser()
	optedOut.EmailOptIn = false

	noAddress := optedInUser()
	noAddress.Email = ""

	tests := []struct {
		name        string
		enabled     bool
		user        *models.User
		wantSkipped bool
		wantError   bool
	}{
		{name: "channel disabled", enabled: false, user: optedInUser(), wantSkipped: true},
		{name: "user opted out", enabled: true, user: optedOut, wantSkipped: true},
		{name: "missing address", enabled: true, user: noAddress, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockSESService{}
			channel := NewEmailChannel(mock, "noreply@transit.example.com", tt.enabled, logger.NewTestLogger(t))

			result := channel.Deliver(context.Background(), tt.user, "Title", "Body")

			assert.False(t, result.Success)
			assert.Equal(t, tt.wantSkipped, result.Skipped)
			assert.Equal(t, tt.wantError, result.Error != "")
			assert.Empty(t, mock.inputs)
		})
	}
}

func TestEmailChannel_ProviderFailure(t *testing.T) {
	mock := &MockSESService{
		SendEmailFunc: func(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error) {
			return nil, stderrors.New("throttled")
		},
	}
	channel := NewEmailChannel(mock, "noreply@transit.example.com", true, logger.NewTestLogger(t))

	result := channel.Deliver(context.Background(), optedInUser(), "Title", "Body")

	assert.False(t, result.Success)
	assert.Equal(t, "throttled", result.Error)
}

type MockSNSService struct {
	PublishFunc func(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error)
	inputs      []*sns.PublishInput
}

func (m *MockSNSService) Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error) {
	m.inputs = append(m.inputs, input)
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, input)
	}
	return &sns.PublishOutput{MessageId: aws.String("sns-msg-1")}, nil
}

func TestSMSChannel_SendsViaSNS(t *testing.T) {
	mock := &MockSNSService{}
	channel := NewSMSChannel(mock, "TRANSIT", true, logger.NewTestLogger(t))

	result := channel.Deliver(context.Background(), optedInUser(), "Bus 101", "Arriving in 5 minutes")

	assert.True(t, result.Success)
	assert.Equal(t, "sns-msg-1", result.Detail["message_id"])
	require.Len(t, mock.inputs, 1)
	input := mock.inputs[0]
	assert.Equal(t, "+15550100", *input.PhoneNumber)
	assert.Equal(t, "Bus 101: Arriving in 5 minutes", *input.Message)
	assert.Equal(t, "TRANSIT", *input.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue)
}

func TestSMSChannel_Gates(t *testing.T) {
	optedOut := optedInUser()
	optedOut.SMSOptIn = false

	noPhone := optedInUser()
	noPhone.Phone = ""

	tests := []struct {
		name        string
		enabled     bool
		user        *models.User
		wantSkipped bool
	}{
		{name: "channel disabled", enabled: false, user: optedInUser(), wantSkipped: true},
		{name: "user opted out", enabled: true, user: optedOut, wantSkipped: true},
		{name: "missing phone", enabled: true, user: noPhone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockSNSService{}
			channel := NewSMSChannel(mock, "", tt.enabled, logger.NewTestLogger(t))

			result := channel.Deliver(context.Background(), tt.user, "Title", "Body")

			assert.False(t, result.Success)
			assert.Equal(t, tt.wantSkipped, result.Skipped)
			assert.Empty(t, mock.inputs)
		})
	}
}

func TestSMSChannel_ProviderFailure(t *testing.T) {
	mock := &MockSNSService{
		PublishFunc: func(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error) {
			return nil, stderrors.New("opted out by carrier")
		},
	}
	channel := NewSMSChannel(mock, "", true, logger.NewTestLogger(t))

	result := channel.Deliver(context.Background(), optedInUser(), "Title", "Body")

	assert.False(t, result.Success)
	assert.Equal(t, "opted out by carrier", result.Error)
}
