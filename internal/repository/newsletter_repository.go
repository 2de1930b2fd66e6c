package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	appErrors "github.com/unclebandit/newsletter-dispatch/internal/errors"
	"github.com/unclebandit/newsletter-dispatch/internal/model"
)

type NewsletterRepositoryInterface interface {
	Create(ctx context.Context, n *model.Newsletter) error
	GetByID(ctx context.Context, id string) (*model.Newsletter, error)
	List(ctx context.Context, offset, limit int, status string) ([]*model.Newsletter, int, error)
	UpdateProgress(ctx context.Context, id string, p model.Progress) error
}

type NewsletterRepository struct {
	DB *sqlx.DB
}

const newsletterColumns = `id, subject, html_body, sender_name, status, recipient_count, sent_at, created_at, updated_at`

func (r *NewsletterRepository) Create(ctx context.Context, n *model.Newsletter) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Status == "" {
		n.Status = model.StatusDraft
	}
	n.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO newsletters (id, subject, html_body, sender_name, status, recipient_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.DB.ExecContext(ctx, query, n.ID, n.Subject, n.HTMLBody, n.SenderName, n.Status, n.RecipientCount, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting newsletter: %w", err)
	}
	return nil
}

func (r *NewsletterRepository) GetByID(ctx context.Context, id string) (*model.Newsletter, error) {
	query := `SELECT ` + newsletterColumns + ` FROM newsletters WHERE id=$1`

	var n model.Newsletter
	if err := r.DB.GetContext(ctx, &n, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewNewsletterNotFound(id)
		}
		return nil, fmt.Errorf("fetching newsletter %s: %w", id, err)
	}
	return &n, nil
}

func (r *NewsletterRepository) List(ctx context.Context, offset, limit int, status string) ([]*model.Newsletter, int, error) {
	query := `SELECT ` + newsletterColumns + ` FROM newsletters WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM newsletters WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if status != "" {
		filter := fmt.Sprintf(" AND status=$%d", argPos)
		query += filter
		countQuery += filter
		args = append(args, status)
		argPos++
	}

	var total int
	if err := r.DB.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("counting newsletters: %w", err)
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	newsletters := []*model.Newsletter{}
	if err := r.DB.SelectContext(ctx, &newsletters, query, args...); err != nil {
		return nil, 0, fmt.Errorf("listing newsletters: %w", err)
	}

	return newsletters, total, nil
}

// UpdateProgress writes status and count. A nil SentAt keeps the stored value.
func (r *NewsletterRepository) UpdateProgress(ctx context.Context, id string, p model.Progress) error {
	query := `
		UPDATE newsletters
		SET status=$1, recipient_count=$2, sent_at=COALESCE($3, sent_at), updated_at=NOW()
		WHERE id=$4
	`
	res, err := r.DB.ExecContext(ctx, query, p.Status, p.RecipientCount, p.SentAt, id)
	if err != nil {
		return fmt.Errorf("updating newsletter progress: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if affected == 0 {
		return appErrors.NewNewsletterNotFound(id)
	}
	return nil
}

var _ NewsletterRepositoryInterface = (*NewsletterRepository)(nil)
