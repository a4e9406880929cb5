package mail

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type logMailer struct {
	log  *zap.Logger
	from string
}

// NewLogMailer returns a Mailer that writes messages to the logger instead of
// delivering them. Used in development so verification links can be copied
// from the console.
func NewLogMailer(log *zap.Logger, from string) Mailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &logMailer{log: log, from: from}
}

func (m *logMailer) Send(_ context.Context, msg Message) error {
	from, recipients, err := resolveEnvelope(msg, m.from)
	if err != nil {
		return fmt.Errorf("log mailer: %w", err)
	}
	m.log.Info("outbound email",
		zap.String("from", from),
		zap.Strings("to", recipients),
		zap.String("subject", msg.Subject),
		zap.String("tag", msg.Tag),
		zap.String("body", msg.Body),
	)
	return nil
}
