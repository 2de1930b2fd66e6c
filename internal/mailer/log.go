package mailer

import (
	"context"

	"go.uber.org/zap"
)

// LogMailer only logs messages. It is used when no SMTP host is configured.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (l *LogMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Recipient: msg.To, Err: err}
	}
	l.logger.Info("📩 newsletter delivered to log",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("from", msg.FromAddress),
	)
	return nil
}
