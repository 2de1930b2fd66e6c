// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

var (
	ErrNewsletterAlreadySent = errors.New("newsletter has already been sent")
	ErrDispatchInProgress    = errors.New("newsletter is already being dispatched")
	ErrInvalidEmail          = errors.New("invalid email address")
	ErrInvalidInput          = errors.New("invalid input")
)

// ErrNewsletterNotFound is returned when a newsletter id does not resolve.
type ErrNewsletterNotFound struct {
	NewsletterID string
}

func (e *ErrNewsletterNotFound) Error() string {
	return fmt.Sprintf("newsletter with ID %s not found", e.NewsletterID)
}

// Helper constructor
func NewNewsletterNotFound(id string) error {
	return &ErrNewsletterNotFound{NewsletterID: id}
}

type ErrSubscriberNotFound struct {
	Email string
}

func (e *ErrSubscriberNotFound) Error() string {
	return fmt.Sprintf("subscriber %s not found", e.Email)
}

func NewSubscriberNotFound(email string) error {
	return &ErrSubscriberNotFound{Email: email}
}

// ErrExhaustedRetries is terminal for a single recipient only.
type ErrExhaustedRetries struct {
	Email    string
	Attempts int
	Last     error
}

func (e *ErrExhaustedRetries) Error() string {
	return fmt.Sprintf("sending to %s failed after %d attempts: %v", e.Email, e.Attempts, e.Last)
}

func (e *ErrExhaustedRetries) Unwrap() error {
	return e.Last
}

// PersistenceError wraps a failed campaign progress write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is one of the not-found errors.
func IsNotFound(err error) bool {
	var nl *ErrNewsletterNotFound
	var sub *ErrSubscriberNotFound
	return errors.As(err, &nl) || errors.As(err, &sub)
}
