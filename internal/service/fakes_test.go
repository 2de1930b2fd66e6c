package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	appErrors "github.com/unclebandit/newsletter-dispatch/internal/errors"
	"github.com/unclebandit/newsletter-dispatch/internal/mailer"
	"github.com/unclebandit/newsletter-dispatch/internal/model"
)

// instantTimer fires as soon as it is started and records the requested wait.
type instantTimer struct {
	rec *waits
	c   chan time.Time
}

func (t *instantTimer) Start(d time.Duration) {
	t.rec.add(d)
	t.c <- time.Now()
}
func (t *instantTimer) Stop()               {}
func (t *instantTimer) C() <-chan time.Time { return t.c }

type waits struct {
	mu sync.Mutex
	d  []time.Duration
}

func (w *waits) add(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.d = append(w.d, d)
}

func (w *waits) all() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Duration(nil), w.d...)
}

func (w *waits) factory() func() backoff.Timer {
	return func() backoff.Timer {
		return &instantTimer{rec: w, c: make(chan time.Time, 1)}
	}
}

// Mock newsletter store
type MockNewsletterStore struct {
	mu          sync.Mutex
	newsletters map[string]*model.Newsletter
	writes      []model.Progress
	getErr      error
	// writeErr decides the outcome of each progress write.
	writeErr func(p model.Progress) error
	// onWrite runs after a write is recorded.
	onWrite func(p model.Progress)
}

func newStore(newsletters ...*model.Newsletter) *MockNewsletterStore {
	s := &MockNewsletterStore{newsletters: make(map[string]*model.Newsletter)}
	for _, n := range newsletters {
		s.newsletters[n.ID] = n
	}
	return s
}

func (m *MockNewsletterStore) GetByID(_ context.Context, id string) (*model.Newsletter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	n, ok := m.newsletters[id]
	if !ok {
		return nil, appErrors.NewNewsletterNotFound(id)
	}
	cp := *n
	return &cp, nil
}

func (m *MockNewsletterStore) UpdateProgress(_ context.Context, id string, p model.Progress) error {
	m.mu.Lock()
	m.writes = append(m.writes, p)
	var err error
	if m.writeErr != nil {
		err = m.writeErr(p)
	}
	if err == nil {
		if n, ok := m.newsletters[id]; ok {
			n.Status = p.Status
			n.RecipientCount = p.RecipientCount
			if p.SentAt != nil {
				n.SentAt = p.SentAt
			}
		}
	}
	hook := m.onWrite
	m.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return err
}

func (m *MockNewsletterStore) progress() []model.Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Progress(nil), m.writes...)
}

func (m *MockNewsletterStore) get(id string) model.Newsletter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.newsletters[id]
}

type MockRecipients struct {
	emails []string
	err    error
	calls  atomic.Int32
}

func (m *MockRecipients) ListActiveEmails(context.Context) ([]string, error) {
	m.calls.Add(1)
	return m.emails, m.err
}

// ScriptedMailer fails each address a set number of times before accepting
// it. A negative count fails forever.
type ScriptedMailer struct {
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
	sent     []mailer.Message
	panicFor string
	delay    time.Duration
	// When gate is set, each send reports on started and blocks until gate
	// is closed.
	gate    chan struct{}
	started chan string

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newMailer() *ScriptedMailer {
	return &ScriptedMailer{failures: make(map[string]int), calls: make(map[string]int)}
}

var errSMTPDown = errors.New("421 service not available")

func (m *ScriptedMailer) Send(_ context.Context, msg mailer.Message) error {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		cur := m.maxInFlight.Load()
		if n <= cur || m.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.gate != nil {
		m.started <- msg.To
		<-m.gate
	}

	if msg.To == m.panicFor {
		panic("connection reset")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[msg.To]++
	left := m.failures[msg.To]
	if left != 0 {
		if left > 0 {
			m.failures[msg.To] = left - 1
		}
		return &mailer.TransportError{Recipient: msg.To, Err: errSMTPDown}
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *ScriptedMailer) callsFor(email string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[email]
}

func (m *ScriptedMailer) delivered() []mailer.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mailer.Message(nil), m.sent...)
}

type MockDispatcher struct {
	mu     sync.Mutex
	ids    []string
	result *model.DispatchResult
	err    error
}

func (m *MockDispatcher) Dispatch(_ context.Context, id string) (*model.DispatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, id)
	return m.result, m.err
}

func (m *MockDispatcher) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ids...)
}
