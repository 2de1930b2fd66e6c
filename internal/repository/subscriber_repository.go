package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	appErrors "github.com/unclebandit/newsletter-dispatch/internal/errors"
	"github.com/unclebandit/newsletter-dispatch/internal/model"
)

// SubscriberRepositoryInterface defines methods used by service
type SubscriberRepositoryInterface interface {
	ListActiveEmails(ctx context.Context) ([]string, error)
	CountActive(ctx context.Context) (int, error)
	List(ctx context.Context, status string) ([]model.Subscriber, error)
	Upsert(ctx context.Context, email string) (*model.Subscriber, error)
	UpdateStatus(ctx context.Context, email string, status model.SubscriberStatus) error
}

type SubscriberRepository struct {
	DB *sqlx.DB
}

// ListActiveEmails returns the active subscribers in insertion order so
// batches are reproducible across runs.
func (r *SubscriberRepository) ListActiveEmails(ctx context.Context) ([]string, error) {
	emails := []string{}
	query := `SELECT email FROM subscribers WHERE status=$1 ORDER BY id`
	if err := r.DB.SelectContext(ctx, &emails, query, model.SubscriberActive); err != nil {
		return nil, fmt.Errorf("listing active subscribers: %w", err)
	}
	return emails, nil
}

func (r *SubscriberRepository) CountActive(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM subscribers WHERE status=$1`
	if err := r.DB.GetContext(ctx, &count, query, model.SubscriberActive); err != nil {
		return 0, fmt.Errorf("counting active subscribers: %w", err)
	}
	return count, nil
}

func (r *SubscriberRepository) List(ctx context.Context, status string) ([]model.Subscriber, error) {
	query := `SELECT id, email, status, created_at, updated_at FROM subscribers`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status=$1`
		args = append(args, status)
	}
	query += ` ORDER BY id`

	subscribers := []model.Subscriber{}
	if err := r.DB.SelectContext(ctx, &subscribers, query, args...); err != nil {
		return nil, fmt.Errorf("listing subscribers: %w", err)
	}
	return subscribers, nil
}

// Upsert inserts a new active subscriber or re-activates an existing one.
func (r *SubscriberRepository) Upsert(ctx context.Context, email string) (*model.Subscriber, error) {
	query := `
		INSERT INTO subscribers (email, status, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (email) DO UPDATE SET status=EXCLUDED.status, updated_at=NOW()
		RETURNING id, email, status, created_at, updated_at
	`
	var s model.Subscriber
	if err := r.DB.GetContext(ctx, &s, query, email, model.SubscriberActive); err != nil {
		return nil, fmt.Errorf("upserting subscriber: %w", err)
	}
	return &s, nil
}

func (r *SubscriberRepository) UpdateStatus(ctx context.Context, email string, status model.SubscriberStatus) error {
	query := `UPDATE subscribers SET status=$1, updated_at=NOW() WHERE email=$2`
	res, err := r.DB.ExecContext(ctx, query, status, email)
	if err != nil {
		return fmt.Errorf("updating subscriber status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if affected == 0 {
		return appErrors.NewSubscriberNotFound(email)
	}
	return nil
}

var _ SubscriberRepositoryInterface = (*SubscriberRepository)(nil)
