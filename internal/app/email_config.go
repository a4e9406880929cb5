package app

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/gozman/bookshelf/pkg/mail"
)

// Email driver names.
const (
	EmailDriverLog      = "log"
	EmailDriverSMTP     = "smtp"
	EmailDriverPostmark = "postmark"
)

// SMTPSettings converts EmailConfig to the mail package representation.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:  c.SMTP.Enabled,
		Host:     c.SMTP.Host,
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     c.From,
		UseTLS:   c.SMTP.UseTLS,
		Timeout:  c.SMTP.Timeout,
	}
}

// PostmarkSettings converts EmailConfig to the Postmark mailer settings.
func (c EmailConfig) PostmarkSettings() mail.PostmarkSettings {
	return mail.PostmarkSettings{
		ServerToken:   strings.TrimSpace(c.Postmark.ServerToken),
		AccountToken:  strings.TrimSpace(c.Postmark.AccountToken),
		From:          c.From,
		MessageStream: strings.TrimSpace(c.Postmark.MessageStream),
	}
}

// BuildMailer selects the outbound mail driver.
func (c EmailConfig) BuildMailer(log *zap.Logger) (mail.Mailer, error) {
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case "", EmailDriverLog:
		return mail.NewLogMailer(log, c.From), nil
	case EmailDriverSMTP:
		return mail.NewSMTPMailer(c.SMTPSettings())
	case EmailDriverPostmark:
		return mail.NewPostmarkMailer(c.PostmarkSettings())
	default:
		return nil, fmt.Errorf("email: unsupported driver %q", c.Driver)
	}
}
