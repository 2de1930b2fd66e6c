package service

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/newsletter-dispatch/internal/errors"
)

const DispatchTopic = "newsletter_dispatch"

type DispatchJob struct {
	NewsletterID string `json:"newsletter_id"`
}

// Worker runs dispatch jobs delivered by a queue.
type Worker struct {
	Dispatcher DispatchRunner
	Logger     *zap.Logger
}

// Constructor
func NewWorker(dispatcher DispatchRunner, logger *zap.Logger) *Worker {
	return &Worker{
		Dispatcher: dispatcher,
		Logger:     logger,
	}
}

// Handle returns an error, asking for redelivery, when the job failed before
// any mail went out or when shutdown interrupted it. An interrupted job
// restarts at batch 1 and relies on the delivery ledger to skip recipients
// that were already sent.
func (w *Worker) Handle(ctx context.Context, body []byte) error {
	var job DispatchJob
	if err := json.Unmarshal(body, &job); err != nil || job.NewsletterID == "" {
		w.Logger.Warn("⚠️ dropping invalid dispatch job", zap.ByteString("body", body), zap.Error(err))
		return nil
	}

	logger := w.Logger.With(zap.String("newsletter_id", job.NewsletterID))
	result, err := w.Dispatcher.Dispatch(ctx, job.NewsletterID)
	if err == nil {
		logger.Info("✅ dispatch job done", zap.String("summary", result.Summary()))
		return nil
	}
	if errors.Is(err, appErrors.ErrDispatchInProgress) {
		logger.Info("dispatch already running, dropping duplicate job")
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("dispatch job interrupted, requeueing", zap.Error(err))
		return err
	}
	if IsRetryable(result, err) {
		logger.Warn("dispatch job failed before sending, will retry", zap.Error(err))
		return err
	}
	logger.Error("❌ dispatch job failed", zap.Error(err))
	return nil
}
