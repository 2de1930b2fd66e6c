// Package app assembles the dispatch pipeline from configuration. The server
// and the worker share it so both send mail the same way.
package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/unclebandit/newsletter-dispatch/internal/config"
	"github.com/unclebandit/newsletter-dispatch/internal/ledger"
	"github.com/unclebandit/newsletter-dispatch/internal/mailer"
	"github.com/unclebandit/newsletter-dispatch/internal/queue"
	"github.com/unclebandit/newsletter-dispatch/internal/repository"
	"github.com/unclebandit/newsletter-dispatch/internal/retry"
	"github.com/unclebandit/newsletter-dispatch/internal/service"
)

// NewMailer returns an SMTP mailer when SMTP_HOST is set and a logging mailer
// otherwise. Either way attempts are counted on reg.
func NewMailer(cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) mailer.Mailer {
	var m mailer.Mailer
	if cfg.SMTP.Host != "" {
		m = mailer.NewSMTPMailer(mailer.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			Timeout:  cfg.SMTP.Timeout,
		})
		logger.Info("📧 using SMTP mailer", zap.String("host", cfg.SMTP.Host), zap.Int("port", cfg.SMTP.Port))
	} else {
		m = mailer.NewLogMailer(logger)
		logger.Warn("⚠️ SMTP_HOST not set, newsletters will only be logged")
	}
	return mailer.NewInstrumentedMailer(m, reg)
}

// NewLedger connects to Redis when REDIS_URL is set. The returned close
// function is always safe to call.
func NewLedger(ctx context.Context, cfg config.Config, logger *zap.Logger) (ledger.Ledger, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info("delivery ledger disabled, re-triggered dispatches may resend")
		return ledger.Nop{}, func() {}, nil
	}

	client, err := ledger.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("✅ Connected to redis delivery ledger")
	return ledger.NewRedis(client), func() { _ = client.Close() }, nil
}

// NewQueue dials RabbitMQ when AMQP_URL is set and falls back to the
// in-process queue.
func NewQueue(cfg config.Config, logger *zap.Logger) (queue.Queue, error) {
	if cfg.AMQPURL == "" {
		logger.Info("using in-memory job queue")
		return queue.NewInMemoryQueue(logger, cfg.Dispatch.MaxRetries), nil
	}
	q, err := queue.DialAMQP(cfg.AMQPURL, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
	}
	logger.Info("✅ Connected to RabbitMQ")
	return q, nil
}

func NewDispatcher(cfg config.Config, database *sqlx.DB, m mailer.Mailer, l ledger.Ledger, logger *zap.Logger) *service.Dispatcher {
	return &service.Dispatcher{
		Newsletters: &repository.NewsletterRepository{DB: database},
		Recipients:  &repository.SubscriberRepository{DB: database},
		Sender:      NewSender(cfg, m, logger),
		Ledger:      l,
		Lock:        &repository.DispatchLock{DB: database},
		Config: service.DispatchConfig{
			BatchSize:   cfg.Dispatch.BatchSize,
			BatchDelay:  cfg.Dispatch.BatchDelay,
			Concurrency: cfg.Dispatch.Concurrency(),
		},
		Logger: logger,
	}
}

func NewSender(cfg config.Config, m mailer.Mailer, logger *zap.Logger) *service.RecipientSender {
	return &service.RecipientSender{
		Mailer: m,
		Policy: retry.Policy{
			MaxAttempts: cfg.Dispatch.MaxRetries,
			Backoff:     retry.Exponential(cfg.Dispatch.RetryBaseDelay),
		},
		FromAddress:        cfg.SMTP.From,
		UnsubscribeBaseURL: cfg.PublicBaseURL,
		Logger:             logger,
	}
}
