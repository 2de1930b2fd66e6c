// internal/service/newsletter_service.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/newsletter-dispatch/internal/errors"
	"github.com/unclebandit/newsletter-dispatch/internal/model"
	"github.com/unclebandit/newsletter-dispatch/internal/queue"
	"github.com/unclebandit/newsletter-dispatch/internal/repository"
)

type NewsletterService struct {
	NewsletterRepo repository.NewsletterRepositoryInterface
	SubscriberRepo repository.SubscriberRepositoryInterface
	Dispatcher     DispatchRunner
	Queue          queue.Queue
	Logger         *zap.Logger
}

type NewsletterDetails struct {
	ID                string                 `json:"id"`
	Subject           string                 `json:"subject"`
	HTMLBody          string                 `json:"html_body"`
	SenderName        string                 `json:"sender_name"`
	Status            model.NewsletterStatus `json:"status"`
	RecipientCount    int                    `json:"recipient_count"`
	SentAt            *time.Time             `json:"sent_at,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         *time.Time             `json:"updated_at,omitempty"`
	ActiveSubscribers int                    `json:"active_subscribers"`
}

func (s *NewsletterService) Create(ctx context.Context, subject, htmlBody, senderName string) (*model.Newsletter, error) {
	if strings.TrimSpace(subject) == "" {
		return nil, fmt.Errorf("%w: subject cannot be empty", appErrors.ErrInvalidInput)
	}
	if strings.TrimSpace(htmlBody) == "" {
		return nil, fmt.Errorf("%w: body cannot be empty", appErrors.ErrInvalidInput)
	}

	n := &model.Newsletter{
		Subject:    strings.TrimSpace(subject),
		HTMLBody:   htmlBody,
		SenderName: strings.TrimSpace(senderName),
		Status:     model.StatusDraft,
	}
	if err := s.NewsletterRepo.Create(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// List fetches newsletters with pagination
func (s *NewsletterService) List(ctx context.Context, page, pageSize int, status string) ([]model.Newsletter, map[string]int, error) {
	if status != "" && !model.NewsletterStatus(status).IsValid() {
		return nil, nil, fmt.Errorf("%w: unknown status %q", appErrors.ErrInvalidInput, status)
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.NewsletterRepo.List(ctx, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	newsletters := make([]model.Newsletter, len(ptrs))
	for i, n := range ptrs {
		newsletters[i] = *n
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return newsletters, pagination, nil
}

func (s *NewsletterService) GetWithProgress(ctx context.Context, id string) (*NewsletterDetails, error) {
	n, err := s.NewsletterRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	active, err := s.SubscriberRepo.CountActive(ctx)
	if err != nil {
		return nil, err
	}

	return &NewsletterDetails{
		ID:                n.ID,
		Subject:           n.Subject,
		HTMLBody:          n.HTMLBody,
		SenderName:        n.SenderName,
		Status:            n.Status,
		RecipientCount:    n.RecipientCount,
		SentAt:            n.SentAt,
		CreatedAt:         n.CreatedAt,
		UpdatedAt:         n.UpdatedAt,
		ActiveSubscribers: active,
	}, nil
}

// Send runs the dispatch in the caller's goroutine.
func (s *NewsletterService) Send(ctx context.Context, id string) (*model.DispatchResult, error) {
	return s.Dispatcher.Dispatch(ctx, id)
}

// Enqueue checks the newsletter can be sent and hands it to the job queue.
func (s *NewsletterService) Enqueue(ctx context.Context, id string) error {
	n, err := s.NewsletterRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := checkSendable(n); err != nil {
		return err
	}

	body, err := json.Marshal(DispatchJob{NewsletterID: id})
	if err != nil {
		return fmt.Errorf("encoding dispatch job: %w", err)
	}
	if err := s.Queue.Publish(ctx, DispatchTopic, body); err != nil {
		return fmt.Errorf("enqueueing dispatch: %w", err)
	}

	s.logger().Info("dispatch queued", zap.String("newsletter_id", id))
	return nil
}

func (s *NewsletterService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
