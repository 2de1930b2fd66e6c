// internal/model/subscriber.go
package model

import "time"

type SubscriberStatus string

const (
	SubscriberActive       SubscriberStatus = "active"
	SubscriberUnsubscribed SubscriberStatus = "unsubscribed"
	SubscriberBounced      SubscriberStatus = "bounced"
)

func (s SubscriberStatus) IsValid() bool {
	switch s {
	case SubscriberActive, SubscriberUnsubscribed, SubscriberBounced:
		return true
	}
	return false
}

type Subscriber struct {
	ID        int              `db:"id" json:"id"`
	Email     string           `db:"email" json:"email"`
	Status    SubscriberStatus `db:"status" json:"status"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt *time.Time       `db:"updated_at" json:"updated_at,omitempty"`
}
