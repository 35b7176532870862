// Package notifications describes outbound customer notifications.
package notifications

import (
	"context"
	"errors"
)

// ErrInvalidEmail is returned when an Email lacks a recipient or content.
var ErrInvalidEmail = errors.New("invalid email")

// Email is a dual-format message addressed to a single recipient.
type Email struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

// Validate checks the minimum fields a mailer needs.
func (e Email) Validate() error {
	switch {
	case e.To == "":
		return errors.Join(ErrInvalidEmail, errors.New("missing recipient"))
	case e.Subject == "":
		return errors.Join(ErrInvalidEmail, errors.New("missing subject"))
	case e.TextBody == "" && e.HTMLBody == "":
		return errors.Join(ErrInvalidEmail, errors.New("missing body"))
	}
	return nil
}

// Mailer delivers emails through an outbound relay.
type Mailer interface {
	Send(ctx context.Context, msg Email) error
}

// ProcessedStore remembers which notifications have already been sent so that
// redelivered events do not produce duplicate emails.
type ProcessedStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	MarkProcessed(ctx context.Context, key string) error
}
