// Package ledger records which recipients already received a newsletter so a
// re-triggered dispatch can skip them.
package ledger

import (
	"context"
	"sync"
)

type Ledger interface {
	Delivered(ctx context.Context, newsletterID, email string) (bool, error)
	MarkDelivered(ctx context.Context, newsletterID, email string) error
}

// Nop never reports a delivery, which keeps restarts at-least-once.
type Nop struct{}

func (Nop) Delivered(context.Context, string, string) (bool, error) { return false, nil }
func (Nop) MarkDelivered(context.Context, string, string) error     { return nil }

type Memory struct {
	mu   sync.RWMutex
	sent map[string]map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{sent: make(map[string]map[string]struct{})}
}

func (m *Memory) Delivered(_ context.Context, newsletterID, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sent[newsletterID][email]
	return ok, nil
}

func (m *Memory) MarkDelivered(_ context.Context, newsletterID, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent[newsletterID] == nil {
		m.sent[newsletterID] = make(map[string]struct{})
	}
	m.sent[newsletterID][email] = struct{}{}
	return nil
}
