package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	appErrors "github.com/unclebandit/newsletter-dispatch/internal/errors"
	"github.com/unclebandit/newsletter-dispatch/internal/ledger"
	"github.com/unclebandit/newsletter-dispatch/internal/model"
	"github.com/unclebandit/newsletter-dispatch/internal/retry"
)

// NewsletterStore is the campaign state the dispatcher reads and writes.
type NewsletterStore interface {
	GetByID(ctx context.Context, id string) (*model.Newsletter, error)
	UpdateProgress(ctx context.Context, id string, p model.Progress) error
}

type RecipientSource interface {
	ListActiveEmails(ctx context.Context) ([]string, error)
}

type DispatchRunner interface {
	Dispatch(ctx context.Context, newsletterID string) (*model.DispatchResult, error)
}

type DispatchConfig struct {
	BatchSize  int
	BatchDelay time.Duration
	// Concurrency caps in-flight sends per batch; 0 or anything above
	// BatchSize means BatchSize.
	Concurrency int
}

// Dispatcher sends one newsletter to the active-subscriber snapshot in
// sequential batches. All counters live in a single Dispatch call, so
// several newsletters may dispatch at once.
type Dispatcher struct {
	Newsletters NewsletterStore
	Recipients  RecipientSource
	Sender      *RecipientSender
	Ledger      ledger.Ledger
	Config      DispatchConfig
	Logger      *zap.Logger
	NewTimer    func() backoff.Timer
	Now         func() time.Time

	// Lock keeps one coordinator per newsletter. Nil means a lock local to
	// this Dispatcher, which does not guard against other processes.
	Lock DispatchLock

	localOnce sync.Once
	local     *LocalLock
}

func (d *Dispatcher) Dispatch(ctx context.Context, newsletterID string) (*model.DispatchResult, error) {
	logger := d.logger().With(zap.String("newsletter_id", newsletterID))

	unlock, err := d.lock().TryLock(ctx, newsletterID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Loaded under the lock so a run that just finished is seen as sent.
	newsletter, err := d.Newsletters.GetByID(ctx, newsletterID)
	if err != nil {
		return nil, fmt.Errorf("loading newsletter: %w", err)
	}
	if err := checkSendable(newsletter); err != nil {
		return nil, err
	}

	recipients, err := d.Recipients.ListActiveEmails(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading active subscribers: %w", err)
	}

	result := &model.DispatchResult{NewsletterID: newsletterID}
	if len(recipients) == 0 {
		logger.Info("no active subscribers, marking newsletter sent")
		return result, d.finish(ctx, newsletterID, result)
	}

	payload := Payload{
		Subject:    newsletter.Subject,
		HTML:       newsletter.HTMLBody,
		SenderName: newsletter.SenderName,
	}

	batches := Partition(recipients, d.batchSize())
	result.Batches = len(batches)
	logger.Info("starting dispatch",
		zap.Int("recipients", len(recipients)),
		zap.Int("batches", len(batches)),
		zap.String("previous_status", string(newsletter.Status)),
	)

	for i, batch := range batches {
		for _, attempt := range d.sendBatch(ctx, newsletterID, payload, batch) {
			switch {
			case attempt.Skipped:
				result.SuccessCount++
				result.SkippedCount++
			case attempt.Delivered:
				result.SuccessCount++
			default:
				result.FailureCount++
			}
		}

		d.checkpoint(ctx, newsletterID, result.SuccessCount, logger)
		logger.Info("batch complete",
			zap.Int("batch", i+1),
			zap.Int("size", len(batch)),
			zap.Int("sent", result.SuccessCount),
			zap.Int("failed", result.FailureCount),
		)

		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("dispatch interrupted after batch %d: %w", i+1, err)
		}
		if i < len(batches)-1 {
			if err := retry.Wait(ctx, d.NewTimer, d.Config.BatchDelay); err != nil {
				return result, fmt.Errorf("dispatch interrupted after batch %d: %w", i+1, err)
			}
		}
	}

	if err := d.finish(ctx, newsletterID, result); err != nil {
		return result, err
	}
	logger.Info("dispatch finished", zap.String("summary", result.Summary()))
	return result, nil
}

// sendBatch fans out one batch and joins before returning. Outcomes are
// written by index, so no locking is needed.
func (d *Dispatcher) sendBatch(ctx context.Context, newsletterID string, p Payload, batch []string) []model.SendAttempt {
	outcomes := make([]model.SendAttempt, len(batch))

	var g errgroup.Group
	g.SetLimit(d.concurrency())
	for i, email := range batch {
		i, email := i, email
		g.Go(func() error {
			outcomes[i] = d.deliver(ctx, newsletterID, email, p)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (d *Dispatcher) deliver(ctx context.Context, newsletterID, email string, p Payload) model.SendAttempt {
	l := d.ledger()

	done, err := l.Delivered(ctx, newsletterID, email)
	if err != nil {
		d.logger().Warn("delivery ledger unavailable, sending anyway",
			zap.String("newsletter_id", newsletterID), zap.String("to", email), zap.Error(err))
	}
	if done {
		return model.SendAttempt{Email: email, Delivered: true, Skipped: true}
	}

	attempt := d.Sender.Send(ctx, email, p)
	if attempt.Delivered {
		if err := l.MarkDelivered(context.WithoutCancel(ctx), newsletterID, email); err != nil {
			d.logger().Warn("recording delivery failed",
				zap.String("newsletter_id", newsletterID), zap.String("to", email), zap.Error(err))
		}
	}
	return attempt
}

// checkpoint records progress after a batch. A failed write is logged and
// the run goes on; mail already sent must not be lost over a checkpoint.
func (d *Dispatcher) checkpoint(ctx context.Context, newsletterID string, sent int, logger *zap.Logger) {
	err := d.Newsletters.UpdateProgress(context.WithoutCancel(ctx), newsletterID, model.Progress{
		Status:         model.StatusSending,
		RecipientCount: sent,
	})
	if err != nil {
		logger.Warn("progress checkpoint failed",
			zap.Int("recipient_count", sent),
			zap.Error(&appErrors.PersistenceError{Op: "progress checkpoint", Err: err}))
	}
}

func (d *Dispatcher) finish(ctx context.Context, newsletterID string, result *model.DispatchResult) error {
	sentAt := d.now().UTC()
	err := d.Newsletters.UpdateProgress(context.WithoutCancel(ctx), newsletterID, model.Progress{
		Status:         model.StatusSent,
		RecipientCount: result.SuccessCount,
		SentAt:         &sentAt,
	})
	if err != nil {
		return &appErrors.PersistenceError{Op: "final status", Err: err}
	}
	return nil
}

func (d *Dispatcher) batchSize() int {
	if d.Config.BatchSize < 1 {
		return 10
	}
	return d.Config.BatchSize
}

func (d *Dispatcher) concurrency() int {
	size := d.batchSize()
	if d.Config.Concurrency <= 0 || d.Config.Concurrency > size {
		return size
	}
	return d.Config.Concurrency
}

func (d *Dispatcher) lock() DispatchLock {
	if d.Lock != nil {
		return d.Lock
	}
	d.localOnce.Do(func() { d.local = NewLocalLock() })
	return d.local
}

func (d *Dispatcher) ledger() ledger.Ledger {
	if d.Ledger == nil {
		return ledger.Nop{}
	}
	return d.Ledger
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d *Dispatcher) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// checkSendable rejects newsletters whose status cannot move to sending.
func checkSendable(n *model.Newsletter) error {
	if n.Status.CanTransitionTo(model.StatusSending) {
		return nil
	}
	if n.Status == model.StatusSent {
		return appErrors.ErrNewsletterAlreadySent
	}
	return fmt.Errorf("%w: newsletter %s has status %q", appErrors.ErrInvalidInput, n.ID, n.Status)
}

// IsRetryable reports whether a failed dispatch may be run again without
// risking duplicate mail: nothing was sent and the newsletter exists.
func IsRetryable(result *model.DispatchResult, err error) bool {
	if err == nil || result != nil {
		return false
	}
	if appErrors.IsNotFound(err) ||
		errors.Is(err, appErrors.ErrNewsletterAlreadySent) ||
		errors.Is(err, appErrors.ErrDispatchInProgress) ||
		errors.Is(err, appErrors.ErrInvalidInput) {
		return false
	}
	return true
}
