package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type mailClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridDispatcher отправляет письма через SendGrid API.
type SendGridDispatcher struct {
	client   mailClient
	fromName string
	from     string
}

func NewSendGridDispatcher(apiKey, from, fromName string) (*SendGridDispatcher, error) {
	if apiKey == "" {
		return nil, errors.New("sendgrid api key is empty")
	}
	if from == "" {
		return nil, errors.New("from address is empty")
	}
	return &SendGridDispatcher{
		client:   sendgrid.NewSendClient(apiKey),
		fromName: fromName,
		from:     from,
	}, nil
}

func (d *SendGridDispatcher) Send(ctx context.Context, msg Message) error {
	if msg.Recipient == "" {
		return ErrEmptyRecipient
	}

	message := mail.NewSingleEmail(
		mail.NewEmail(d.fromName, d.from),
		msg.Subject,
		mail.NewEmail("", msg.Recipient),
		"",
		msg.HTMLBody,
	)

	response, err := d.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send error: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid send failed: status=%d, body=%s", response.StatusCode, response.Body)
	}
	return nil
}
