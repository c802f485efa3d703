package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// SendGrid sends escalation email through the SendGrid v3 API
type SendGrid struct {
	client  *sendgrid.Client
	timeout time.Duration
}

// NewSendGrid creates a SendGrid sender. timeout bounds each API call.
func NewSendGrid(apiKey string, timeout time.Duration) *SendGrid {
	return &SendGrid{
		client:  sendgrid.NewSendClient(apiKey),
		timeout: timeout,
	}
}

func (s *SendGrid) SendEmail(ctx context.Context, msg Email) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	message := mail.NewSingleEmail(
		mail.NewEmail("", msg.From),
		msg.Subject,
		mail.NewEmail("", msg.To),
		msg.Text,
		msg.HTML,
	)

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid send: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// Twilio sends escalation SMS through the Twilio Messages API
type Twilio struct {
	client *twilio.RestClient
}

// NewTwilio creates a Twilio sender for the given account
func NewTwilio(accountSID, authToken string, timeout time.Duration) *Twilio {
	params := twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	}
	client := twilio.NewRestClientWithParams(params)
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &Twilio{client: client}
}

// SendSMS creates one message. The Twilio client has no context support;
// ctx is checked before the call only.
func (t *Twilio) SendSMS(ctx context.Context, msg SMS) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioapi.CreateMessageParams{}
	params.SetTo(msg.To)
	params.SetFrom(msg.From)
	params.SetBody(msg.Body)

	if _, err := t.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio send: %w", err)
	}
	return nil
}
