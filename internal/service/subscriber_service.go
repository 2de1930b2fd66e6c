package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	appErrors "github.com/unclebandit/newsletter-dispatch/internal/errors"
	"github.com/unclebandit/newsletter-dispatch/internal/model"
	"github.com/unclebandit/newsletter-dispatch/internal/repository"
)

type SubscriberService struct {
	SubscriberRepo repository.SubscriberRepositoryInterface
}

// NormalizeEmail accepts a bare address only and lower-cases it.
func NormalizeEmail(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", fmt.Errorf("%w: %q", appErrors.ErrInvalidEmail, raw)
	}
	return strings.ToLower(addr.Address), nil
}

func (s *SubscriberService) Subscribe(ctx context.Context, email string) (*model.Subscriber, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	return s.SubscriberRepo.Upsert(ctx, normalized)
}

func (s *SubscriberService) Unsubscribe(ctx context.Context, email string) error {
	return s.setStatus(ctx, email, model.SubscriberUnsubscribed)
}

func (s *SubscriberService) MarkBounced(ctx context.Context, email string) error {
	return s.setStatus(ctx, email, model.SubscriberBounced)
}

func (s *SubscriberService) List(ctx context.Context, status string) ([]model.Subscriber, error) {
	if status != "" && !model.SubscriberStatus(status).IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", appErrors.ErrInvalidInput, status)
	}
	return s.SubscriberRepo.List(ctx, status)
}

func (s *SubscriberService) setStatus(ctx context.Context, email string, status model.SubscriberStatus) error {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	return s.SubscriberRepo.UpdateStatus(ctx, normalized, status)
}
