package channels

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/ses"

	awsclient "transit-notifications/internal/common/aws"
	"transit-notifications/internal/common/logger"
	"transit-notifications/internal/models"
)

// SESService is the slice of the SES client the email adapter needs.
type SESService interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error)
}

type EmailChannel struct {
	ses       SESService
	fromEmail string
	enabled   bool
	log       logger.Logger
}

func NewEmailChannel(sesService SESService, fromEmail string, enabled bool, log logger.Logger) *EmailChannel {
	return &EmailChannel{ses: sesService, fromEmail: fromEmail, enabled: enabled, log: log}
}

func (c *EmailChannel) Deliver(ctx context.Context, user *models.User, title, body string) Result {
	if !c.enabled || c.ses == nil {
		return skipped(models.ChannelEmail, "email channel disabled")
	}
	if !user.EmailOptIn {
		return skipped(models.ChannelEmail, "user opted out of email")
	}
	if user.Email == "" {
		return failed(models.ChannelEmail, "no email address on file", nil)
	}

	input := awsclient.BuildSimpleEmail(c.fromEmail, user.Email, title, body)
	out, err := c.ses.SendEmail(ctx, input)
	if err != nil {
		c.log.Error("Email delivery failed", map[string]interface{}{
			"userId": user.ID,
			"error":  err.Error(),
		})
		return failed(models.ChannelEmail, err.Error(), nil)
	}

	detail := map[string]interface{}{}
	if out != nil && out.MessageId != nil {
		detail["message_id"] = *out.MessageId
	}
	return sent(models.ChannelEmail, detail)
}
