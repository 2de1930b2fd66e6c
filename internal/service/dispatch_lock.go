package service

import (
	"context"
	"sync"

	appErrors "github.com/unclebandit/newsletter-dispatch/internal/errors"
)

// DispatchLock grants a single coordinator per newsletter. TryLock fails
// with appErrors.ErrDispatchInProgress instead of waiting.
type DispatchLock interface {
	TryLock(ctx context.Context, newsletterID string) (unlock func(), err error)
}

// LocalLock guards dispatches within one process.
type LocalLock struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func NewLocalLock() *LocalLock {
	return &LocalLock{active: make(map[string]struct{})}
}

func (l *LocalLock) TryLock(_ context.Context, newsletterID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.active[newsletterID]; busy {
		return nil, appErrors.ErrDispatchInProgress
	}
	l.active[newsletterID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.active, newsletterID)
			l.mu.Unlock()
		})
	}, nil
}
