// internal/model/newsletter.go
package model

import "time"

type NewsletterStatus string

const (
	StatusDraft   NewsletterStatus = "draft"
	StatusSending NewsletterStatus = "sending"
	StatusSent    NewsletterStatus = "sent"
)

func (s NewsletterStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusSending, StatusSent:
		return true
	}
	return false
}

// CanTransitionTo encodes draft -> sending -> sent. Repeating the current
// state is allowed so progress writes stay idempotent.
func (s NewsletterStatus) CanTransitionTo(next NewsletterStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusDraft:
		return next == StatusSending || next == StatusSent
	case StatusSending:
		return next == StatusSent
	}
	return false
}

type Newsletter struct {
	ID             string           `db:"id" json:"id"`
	Subject        string           `db:"subject" json:"subject"`
	HTMLBody       string           `db:"html_body" json:"html_body"`
	SenderName     string           `db:"sender_name" json:"sender_name"`
	Status         NewsletterStatus `db:"status" json:"status"`
	RecipientCount int              `db:"recipient_count" json:"recipient_count"`
	SentAt         *time.Time       `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      *time.Time       `db:"updated_at" json:"updated_at,omitempty"`
}

// Progress is the slice of a newsletter the dispatcher writes back.
type Progress struct {
	Status         NewsletterStatus
	RecipientCount int
	SentAt         *time.Time
}
