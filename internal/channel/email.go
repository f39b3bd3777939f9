package channel

import (
	"context"
	"fmt"

	"github.com/mrz1836/postmark"
)

// EmailConfig configures the Postmark-backed email adapter.
type EmailConfig struct {
	ServerToken  string
	AccountToken string
	SenderEmail  string
	SupportEmail string
}

// PostmarkSender delivers email through Postmark's transactional API.
type PostmarkSender struct {
	client *postmark.Client
	cfg    EmailConfig
}

func NewPostmarkSender(cfg EmailConfig) *PostmarkSender {
	return &PostmarkSender{
		client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		cfg:    cfg,
	}
}

func (s *PostmarkSender) Send(ctx context.Context, to, body, subject string) error {
	if subject == "" {
		subject = "Notification"
	}

	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:     s.cfg.SenderEmail,
		ReplyTo:  s.cfg.SupportEmail,
		To:       to,
		Subject:  subject,
		TextBody: body,
	})
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("postmark error %d: %s", resp.ErrorCode, resp.Message)
	}
	return nil
}
