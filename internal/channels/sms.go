package channels

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sns"

	awsclient "transit-notifications/internal/common/aws"
	"transit-notifications/internal/common/logger"
	"transit-notifications/internal/models"
)

// SNSService is the slice of the SNS client the SMS adapter needs.
type SNSService interface {
	Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error)
}

type SMSChannel struct {
	sns      SNSService
	senderID string
	enabled  bool
	log      logger.Logger
}

func NewSMSChannel(snsService SNSService, senderID string, enabled bool, log logger.Logger) *SMSChannel {
	return &SMSChannel{sns: snsService, senderID: senderID, enabled: enabled, log: log}
}

func (c *SMSChannel) Deliver(ctx context.Context, user *models.User, title, body string) Result {
	if !c.enabled || c.sns == nil {
		return skipped(models.ChannelSMS, "sms channel disabled")
	}
	if !user.SMSOptIn {
		return skipped(models.ChannelSMS, "user opted out of sms")
	}
	if user.Phone == "" {
		return failed(models.ChannelSMS, "no phone number on file", nil)
	}

	message := body
	if title != "" {
		message = fmt.Sprintf("%s: %s", title, body)
	}

	input := awsclient.BuildSMS(user.Phone, message, c.senderID)
	out, err := c.sns.Publish(ctx, input)
	if err != nil {
		c.log.Error("SMS delivery failed", map[string]interface{}{
			"userId": user.ID,
			"error":  err.Error(),
		})
		return failed(models.ChannelSMS, err.Error(), nil)
	}

	detail := map[string]interface{}{}
	if out != nil && out.MessageId != nil {
		detail["message_id"] = *out.MessageId
	}
	return sent(models.ChannelSMS, detail)
}
