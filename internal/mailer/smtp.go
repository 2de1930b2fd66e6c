package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

// SMTPMailer opens one connection per message, so concurrent sends within a
// batch never share client state.
type SMTPMailer struct {
	cfg SMTPConfig
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (s *SMTPMailer) Send(ctx context.Context, msg Message) error {
	m, err := buildMsg(msg)
	if err != nil {
		return &TransportError{Recipient: msg.To, Err: err}
	}

	client, err := mail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return &TransportError{Recipient: msg.To, Err: fmt.Errorf("creating smtp client: %w", err)}
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return &TransportError{Recipient: msg.To, Err: err}
	}
	return nil
}

func (s *SMTPMailer) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if s.cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(s.cfg.Timeout))
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return opts
}

func buildMsg(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if msg.FromName != "" {
		if err := m.FromFormat(msg.FromName, msg.FromAddress); err != nil {
			return nil, fmt.Errorf("setting sender: %w", err)
		}
	} else if err := m.From(msg.FromAddress); err != nil {
		return nil, fmt.Errorf("setting sender: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("setting recipient: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	return m, nil
}
