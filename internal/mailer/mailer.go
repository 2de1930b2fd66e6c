package mailer

import (
	"context"
	"fmt"
)

type Message struct {
	To          string
	Subject     string
	HTML        string
	FromName    string
	FromAddress string
}

// Mailer delivers a single message. Implementations must be safe for
// concurrent use by the senders of one batch.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// TransportError is a failed delivery attempt. It is retryable.
type TransportError struct {
	Recipient string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sending to %s: %v", e.Recipient, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
