package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/newsletter-dispatch/internal/controller"
	appErrors "github.com/unclebandit/newsletter-dispatch/internal/errors"
	"github.com/unclebandit/newsletter-dispatch/internal/model"
	"github.com/unclebandit/newsletter-dispatch/internal/queue"
	"github.com/unclebandit/newsletter-dispatch/internal/service"
)

// --- Mock Repositories ---

type MockNewsletterRepo struct {
	items []*model.Newsletter
}

func (m *MockNewsletterRepo) Create(_ context.Context, n *model.Newsletter) error {
	n.ID = fmt.Sprintf("n%d", len(m.items)+1)
	m.items = append(m.items, n)
	return nil
}

func (m *MockNewsletterRepo) GetByID(_ context.Context, id string) (*model.Newsletter, error) {
	for _, n := range m.items {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, appErrors.NewNewsletterNotFound(id)
}

func (m *MockNewsletterRepo) List(_ context.Context, offset, limit int, _ string) ([]*model.Newsletter, int, error) {
	end := min(offset+limit, len(m.items))
	if offset >= end {
		return []*model.Newsletter{}, len(m.items), nil
	}
	return m.items[offset:end], len(m.items), nil
}

func (m *MockNewsletterRepo) UpdateProgress(context.Context, string, model.Progress) error {
	return nil
}

type MockSubscriberRepo struct {
	statuses map[string]model.SubscriberStatus
}

func (m *MockSubscriberRepo) ListActiveEmails(context.Context) ([]string, error) {
	var out []string
	for e, s := range m.statuses {
		if s == model.SubscriberActive {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockSubscriberRepo) CountActive(ctx context.Context) (int, error) {
	emails, _ := m.ListActiveEmails(ctx)
	return len(emails), nil
}

func (m *MockSubscriberRepo) List(context.Context, string) ([]model.Subscriber, error) {
	out := []model.Subscriber{}
	for e, s := range m.statuses {
		out = append(out, model.Subscriber{Email: e, Status: s})
	}
	return out, nil
}

func (m *MockSubscriberRepo) Upsert(_ context.Context, email string) (*model.Subscriber, error) {
	m.statuses[email] = model.SubscriberActive
	return &model.Subscriber{ID: len(m.statuses), Email: email, Status: model.SubscriberActive}, nil
}

func (m *MockSubscriberRepo) UpdateStatus(_ context.Context, email string, status model.SubscriberStatus) error {
	if _, ok := m.statuses[email]; !ok {
		return appErrors.NewSubscriberNotFound(email)
	}
	m.statuses[email] = status
	return nil
}

type MockDispatcher struct {
	result *model.DispatchResult
	err    error
	// ctxErr is the state of the dispatch context when Dispatch returned.
	ctxErr error
	during func(ctx context.Context)
}

func (m *MockDispatcher) Dispatch(ctx context.Context, _ string) (*model.DispatchResult, error) {
	if m.during != nil {
		m.during(ctx)
	}
	m.ctxErr = ctx.Err()
	return m.result, m.err
}

type MockQueue struct {
	published [][]byte
}

func (m *MockQueue) Publish(_ context.Context, _ string, body []byte) error {
	m.published = append(m.published, body)
	return nil
}
func (m *MockQueue) Subscribe(string, queue.Handler) error { return nil }
func (m *MockQueue) Close() error                          { return nil }

type fixture struct {
	newsletters *MockNewsletterRepo
	subscribers *MockSubscriberRepo
	dispatcher  *MockDispatcher
	queue       *MockQueue
	router      http.Handler
}

func newFixture() *fixture {
	return newFixtureWithShutdown(nil)
}

func newFixtureWithShutdown(shutdown context.Context) *fixture {
	f := &fixture{
		newsletters: &MockNewsletterRepo{items: []*model.Newsletter{
			{ID: "c1", Subject: "Hello", HTMLBody: "<p>Hi</p>", Status: model.StatusDraft},
			{ID: "c2", Subject: "Old", HTMLBody: "<p>Old</p>", Status: model.StatusSent, RecipientCount: 7},
		}},
		subscribers: &MockSubscriberRepo{statuses: map[string]model.SubscriberStatus{
			"a@x.com": model.SubscriberActive,
			"b@x.com": model.SubscriberActive,
		}},
		dispatcher: &MockDispatcher{},
		queue:      &MockQueue{},
	}
	f.router = controller.NewRouter(controller.RouterDeps{
		Newsletters: &service.NewsletterService{
			NewsletterRepo: f.newsletters,
			SubscriberRepo: f.subscribers,
			Dispatcher:     f.dispatcher,
			Queue:          f.queue,
		},
		Subscribers: &service.SubscriberService{SubscriberRepo: f.subscribers},
		Gatherer:    prometheus.NewRegistry(),
		Shutdown:    shutdown,
	})
	return f
}

func (f *fixture) do(method, target string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// --- Test Functions ---

func TestHealth(t *testing.T) {
	w := newFixture().do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	w := newFixture().do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateNewsletter(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodPost, "/newsletters", map[string]string{
		"subject": "Launch", "html_body": "<p>{email}</p>", "sender_name": "Acme",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	resp := decode(t, w)
	assert.Equal(t, "n3", resp["id"])
	assert.Equal(t, "draft", resp["status"])
}

func TestCreateNewsletterRejectsBadInput(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodPost, "/newsletters", map[string]string{"subject": "", "html_body": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/newsletters", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListNewsletters(t *testing.T) {
	w := newFixture().do(http.MethodGet, "/newsletters?page=1&page_size=1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	assert.Len(t, resp["data"], 1)
	pagination := resp["pagination"].(map[string]interface{})
	assert.EqualValues(t, 2, pagination["total_count"])
	assert.EqualValues(t, 2, pagination["total_pages"])
}

func TestListNewslettersUnknownStatus(t *testing.T) {
	w := newFixture().do(http.MethodGet, "/newsletters?status=archived", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetNewsletterWithProgress(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodGet, "/newsletters/c2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "sent", resp["status"])
	assert.EqualValues(t, 7, resp["recipient_count"])
	assert.EqualValues(t, 2, resp["active_subscribers"])

	w = f.do(http.MethodGet, "/newsletters/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendNewsletter(t *testing.T) {
	f := newFixture()
	f.dispatcher.result = &model.DispatchResult{NewsletterID: "c1", SuccessCount: 2, FailureCount: 1}

	w := f.do(http.MethodPost, "/newsletters/c1/send", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	assert.Equal(t, "c1", resp["newsletter_id"])
	assert.EqualValues(t, 2, resp["success_count"])
	assert.EqualValues(t, 1, resp["failure_count"])
	assert.Equal(t, "sent to 2 subscribers (1 failed)", resp["message"])
}

func TestSendNewsletterErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", appErrors.NewNewsletterNotFound("c9"), http.StatusNotFound},
		{"already sent", appErrors.ErrNewsletterAlreadySent, http.StatusConflict},
		{"persistence", &appErrors.PersistenceError{Op: "final status", Err: fmt.Errorf("disk full")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.dispatcher.err = tt.err

			w := f.do(http.MethodPost, "/newsletters/c1/send", nil)
			assert.Equal(t, tt.want, w.Code)
			assert.NotEmpty(t, decode(t, w)["error"])
		})
	}
}

func TestSendNewsletterAsync(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodPost, "/newsletters/c1/send?async=true", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "queued", decode(t, w)["status"])
	require.Len(t, f.queue.published, 1)
	assert.JSONEq(t, `{"newsletter_id":"c1"}`, string(f.queue.published[0]))

	w = f.do(http.MethodPost, "/newsletters/c2/send?async=true", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Len(t, f.queue.published, 1)
}

func TestSubscriberRoutes(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodPost, "/subscribers", map[string]string{"email": "New@X.com"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "new@x.com", decode(t, w)["email"])

	w = f.do(http.MethodPost, "/subscribers", map[string]string{"email": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/subscribers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, decode(t, w)["count"])

	w = f.do(http.MethodDelete, "/subscribers/a@x.com", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, model.SubscriberUnsubscribed, f.subscribers.statuses["a@x.com"])

	w = f.do(http.MethodPost, "/subscribers/b@x.com/bounce", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, model.SubscriberBounced, f.subscribers.statuses["b@x.com"])

	w = f.do(http.MethodDelete, "/subscribers/ghost@x.com", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUnsubscribeLink(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodGet, "/unsubscribe?email=a%40x.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `<form method="post" action="/unsubscribe">`)
	assert.Contains(t, w.Body.String(), `value="a@x.com"`)
	assert.Equal(t, model.SubscriberActive, f.subscribers.statuses["a@x.com"])

	w = f.do(http.MethodGet, "/unsubscribe?email=garbage", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func postForm(f *fixture, email string) *httptest.ResponseRecorder {
	form := url.Values{"email": {email}}
	req := httptest.NewRequest(http.MethodPost, "/unsubscribe", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestConfirmUnsubscribe(t *testing.T) {
	f := newFixture()

	w := postForm(f, "a@x.com")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "a@x.com has been unsubscribed")
	assert.Equal(t, model.SubscriberUnsubscribed, f.subscribers.statuses["a@x.com"])

	w = postForm(f, "ghost@x.com")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendNewsletterSurvivesClientDisconnect(t *testing.T) {
	f := newFixture()
	f.dispatcher.result = &model.DispatchResult{NewsletterID: "c1", SuccessCount: 2}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/newsletters/c1/send", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, f.dispatcher.ctxErr)
}

func TestSendNewsletterStopsOnShutdown(t *testing.T) {
	shutdown, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixtureWithShutdown(shutdown)
	f.dispatcher.during = func(ctx context.Context) {
		cancel()
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
	}
	f.dispatcher.result = &model.DispatchResult{NewsletterID: "c1", SuccessCount: 10}
	f.dispatcher.err = fmt.Errorf("dispatch interrupted after batch 1: %w", context.Canceled)

	w := f.do(http.MethodPost, "/newsletters/c1/send", nil)

	assert.ErrorIs(t, f.dispatcher.ctxErr, context.Canceled)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.EqualValues(t, 10, decode(t, w)["success_count"])
}

func TestSendNewsletterReportsCountsWhenFinalWriteFails(t *testing.T) {
	f := newFixture()
	f.dispatcher.result = &model.DispatchResult{NewsletterID: "c1", SuccessCount: 2, FailureCount: 1}
	f.dispatcher.err = &appErrors.PersistenceError{Op: "final status", Err: fmt.Errorf("disk full")}

	w := f.do(http.MethodPost, "/newsletters/c1/send", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	resp := decode(t, w)
	assert.Equal(t, "c1", resp["newsletter_id"])
	assert.EqualValues(t, 2, resp["success_count"])
	assert.EqualValues(t, 1, resp["failure_count"])
	assert.Equal(t, "sent to 2 subscribers (1 failed)", resp["message"])
	assert.Equal(t, "dispatch did not complete", resp["error"])
}

func TestSendNewsletterAlreadyRunning(t *testing.T) {
	f := newFixture()
	f.dispatcher.err = appErrors.ErrDispatchInProgress

	w := f.do(http.MethodPost, "/newsletters/c1/send", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}
