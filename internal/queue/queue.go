package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/newsletter-dispatch/internal/retry"
)

// Handler processes one message body. A non-nil error asks for redelivery.
type Handler func(ctx context.Context, body []byte) error

// Queue interface
type Queue interface {
	Publish(ctx context.Context, topic string, body []byte) error
	Subscribe(topic string, handler Handler) error
	Close() error
}

// InMemoryQueue runs handlers in-process with bounded retry. Jobs are lost on
// restart; use the AMQP queue when that matters.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]Handler
	logger   *zap.Logger
	policy   retry.Policy

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(logger *zap.Logger, maxRetries int) *InMemoryQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &InMemoryQueue{
		handlers: make(map[string][]Handler),
		logger:   logger,
		policy: retry.Policy{
			MaxAttempts: maxRetries + 1,
			Backoff: func(attempt int) time.Duration {
				return time.Duration(attempt*500) * time.Millisecond
			},
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Publish hands the body to every subscriber of topic. Jobs are detached
// from ctx so they outlive the request that published them.
func (q *InMemoryQueue) Publish(_ context.Context, topic string, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Checked under mu so no job is added once Close has started waiting.
	if q.ctx.Err() != nil {
		return fmt.Errorf("queue closed")
	}
	handlers := q.handlers[topic]
	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	q.wg.Add(len(handlers))
	for _, handler := range handlers {
		go q.processJob(topic, handler, body)
	}
	return nil
}

func (q *InMemoryQueue) processJob(topic string, handler Handler, body []byte) {
	defer q.wg.Done()

	policy := q.policy
	policy.Notify = func(attempt int, err error, wait time.Duration) {
		q.logger.Warn("job failed, retrying",
			zap.String("topic", topic), zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	}

	res := retry.Do(q.ctx, policy, func(ctx context.Context) error {
		return handler(ctx, body)
	})
	if !res.OK() {
		q.logger.Error("job permanently failed",
			zap.String("topic", topic), zap.Int("attempts", res.Attempts), zap.Error(res.Err))
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published job has finished.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

// Close cancels running jobs and waits for them to return.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	q.cancel()
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}

var _ Queue = (*InMemoryQueue)(nil)
