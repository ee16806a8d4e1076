// Package mailer delivers contact emails through a pluggable provider.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidEmail = errors.New("invalid email payload")

// Email is a single outbound message. To always carries exactly one recipient
// for the contact relay, but the provider APIs accept a list.
type Email struct {
	From    string
	To      []string
	ReplyTo string
	Subject string
	Text    string
	HTML    string
}

func (e *Email) Validate() error {
	switch {
	case strings.TrimSpace(e.From) == "":
		return fmt.Errorf("%w: missing from address", ErrInvalidEmail)
	case len(e.To) != 1 || strings.TrimSpace(e.To[0]) == "":
		return fmt.Errorf("%w: exactly one recipient required", ErrInvalidEmail)
	case e.Subject == "":
		return fmt.Errorf("%w: missing subject", ErrInvalidEmail)
	case e.Text == "" && e.HTML == "":
		return fmt.Errorf("%w: missing body", ErrInvalidEmail)
	}
	return nil
}

// Sender submits an email to a delivery provider. Implementations make a
// single attempt and never retry.
type Sender interface {
	Send(ctx context.Context, email *Email) error
}

// DeliveryError describes a provider rejection. Detail is meant for server
// logs only.
type DeliveryError struct {
	Provider   string
	StatusCode int
	Detail     string
}

func (e *DeliveryError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s delivery failed: %s", e.Provider, e.Detail)
	}
	return fmt.Sprintf("%s delivery failed (%d): %s", e.Provider, e.StatusCode, e.Detail)
}
