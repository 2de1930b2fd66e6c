// internal/model/dispatch.go
package model

import "fmt"

// SendAttempt lives only for one recipient's retry loop.
type SendAttempt struct {
	Email     string
	Attempts  int
	Delivered bool
	Skipped   bool
	Err       error
}

type DispatchResult struct {
	NewsletterID string `json:"newsletter_id"`
	SuccessCount int    `json:"success_count"`
	FailureCount int    `json:"failure_count"`
	SkippedCount int    `json:"skipped_count"`
	Batches      int    `json:"batches"`
}

func (r *DispatchResult) Total() int {
	return r.SuccessCount + r.FailureCount
}

func (r *DispatchResult) Summary() string {
	return fmt.Sprintf("sent to %d subscribers (%d failed)", r.SuccessCount, r.FailureCount)
}
