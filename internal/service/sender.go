package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/newsletter-dispatch/internal/errors"
	"github.com/unclebandit/newsletter-dispatch/internal/mailer"
	"github.com/unclebandit/newsletter-dispatch/internal/model"
	"github.com/unclebandit/newsletter-dispatch/internal/retry"
)

// Payload is the part of a newsletter that is identical for every recipient.
type Payload struct {
	Subject    string
	HTML       string
	SenderName string
}

// RecipientSender delivers one newsletter to one address with bounded retry.
// Send never returns an error: failures come back inside the SendAttempt.
type RecipientSender struct {
	Mailer             mailer.Mailer
	Policy             retry.Policy
	FromAddress        string
	UnsubscribeBaseURL string
	Logger             *zap.Logger
}

func (s *RecipientSender) Send(ctx context.Context, email string, p Payload) model.SendAttempt {
	logger := s.logger().With(zap.String("to", email))

	msg := mailer.Message{
		To:          email,
		Subject:     p.Subject,
		HTML:        Personalize(p.HTML, email, s.UnsubscribeBaseURL),
		FromName:    p.SenderName,
		FromAddress: s.FromAddress,
	}

	policy := s.Policy
	policy.Notify = func(attempt int, err error, wait time.Duration) {
		logger.Warn("send attempt failed, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	res := retry.Do(ctx, policy, func(ctx context.Context) error {
		return s.sendOnce(ctx, msg)
	})

	attempt := model.SendAttempt{
		Email:     email,
		Attempts:  res.Attempts,
		Delivered: res.OK(),
	}
	if !res.OK() {
		attempt.Err = &appErrors.ErrExhaustedRetries{Email: email, Attempts: res.Attempts, Last: res.Err}
		logger.Error("giving up on recipient", zap.Int("attempts", res.Attempts), zap.Error(res.Err))
	}
	return attempt
}

// sendOnce turns a mailer panic into an ordinary transport failure so it
// stays inside this recipient.
func (s *RecipientSender) sendOnce(ctx context.Context, msg mailer.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &mailer.TransportError{Recipient: msg.To, Err: fmt.Errorf("mailer panic: %v", r)}
		}
	}()
	return s.Mailer.Send(ctx, msg)
}

func (s *RecipientSender) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
