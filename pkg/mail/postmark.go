package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mrz1836/postmark"
)

// PostmarkSettings configure the Postmark transactional mailer.
type PostmarkSettings struct {
	ServerToken   string
	AccountToken  string
	From          string
	MessageStream string
}

type postmarkSender interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

type postmarkMailer struct {
	cfg    PostmarkSettings
	client postmarkSender
}

// NewPostmarkMailer builds a Mailer delivering through the Postmark API.
func NewPostmarkMailer(cfg PostmarkSettings) (Mailer, error) {
	if strings.TrimSpace(cfg.ServerToken) == "" {
		return nil, errors.New("postmark: server token is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("postmark: sender address is required")
	}
	return &postmarkMailer{
		cfg:    cfg,
		client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
	}, nil
}

func (m *postmarkMailer) Send(ctx context.Context, msg Message) error {
	from, recipients, err := resolveEnvelope(msg, m.cfg.From)
	if err != nil {
		return fmt.Errorf("postmark: %w", err)
	}

	resp, err := m.client.SendEmail(ctx, postmark.Email{
		From:          from,
		To:            strings.Join(recipients, ","),
		Subject:       escapeHeader(msg.Subject),
		Tag:           msg.Tag,
		TextBody:      msg.Body,
		HTMLBody:      msg.HTMLBody,
		MessageStream: m.cfg.MessageStream,
	})
	if err != nil {
		return fmt.Errorf("postmark: send: %w", err)
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("postmark: api error %d: %s", resp.ErrorCode, resp.Message)
	}
	return nil
}
