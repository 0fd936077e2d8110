// Package senders holds EmailSender transports
package senders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	acc "github.com/panyam/accounts"
)

const DefaultSendGridHost = "https://api.sendgrid.com"

// SendGridSender delivers messages through the SendGrid v3 mail API
type SendGridSender struct {
	APIKey   string
	FromName string
	From     string

	// Defaults to DefaultSendGridHost
	Host string

	Logger *slog.Logger
}

func NewSendGridSender(apiKey, fromName, from string) *SendGridSender {
	return &SendGridSender{APIKey: apiKey, FromName: fromName, From: from}
}

func (s *SendGridSender) host() string {
	if s.Host == "" {
		return DefaultSendGridHost
	}
	return s.Host
}

// Build converts a message into a SendGrid v3 request body
func (s *SendGridSender) Build(msg *acc.Message) (*mail.SGMailV3, error) {
	if len(msg.To) == 0 {
		return nil, errors.New("message has no recipients")
	}
	m := mail.NewV3MailInit(
		mail.NewEmail(s.FromName, s.From), msg.Subject,
		mail.NewEmail("", msg.To[0]),
		mail.NewContent("text/html", msg.Content))
	for _, to := range msg.To[1:] {
		m.Personalizations[0].AddTos(mail.NewEmail("", to))
	}
	return m, nil
}

func (s *SendGridSender) Send(ctx context.Context, msg *acc.Message) error {
	m, err := s.Build(msg)
	if err != nil {
		return err
	}

	req := sendgrid.GetRequest(s.APIKey, "/v3/mail/send", s.host())
	req.Method = "POST"
	req.Body = mail.GetRequestBody(m)
	resp, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sendgrid request failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid rejected message: status %d: %s", resp.StatusCode, resp.Body)
	}

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.DebugContext(ctx, "email sent", "subject", msg.Subject, "recipients", len(msg.To))
	return nil
}
