// Package email delivers newsletter and confirmation emails. Every transport
// classifies its failures as permanent (retrying cannot help) or transient,
// so callers can decide between rescheduling and discarding a delivery.
package email

import (
	"context"
	"errors"
)

// Sender delivers a single email to one recipient.
type Sender interface {
	Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error
}

// ErrUnavailable means the transport was not called at all, for instance
// because its circuit breaker is open. It is always transient.
var ErrUnavailable = errors.New("email transport unavailable")

// Error is a classified transport failure.
type Error struct {
	Permanent bool
	Err       error
}

func (e *Error) Error() string {
	if e.Permanent {
		return "permanent email failure: " + e.Err.Error()
	}
	return "transient email failure: " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Permanent: true, Err: err}
}

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Err: err}
}

// IsPermanent reports whether err is a permanent failure. Unclassified errors
// are treated as transient.
func IsPermanent(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Permanent
}
