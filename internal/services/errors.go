// Package services defines the business logic for subscriptions and
// newsletter publishing. This file centralizes common service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

// Newsletter errors.
var (
	// ErrInvalidIssue is returned when a newsletter issue is missing its
	// title or one of its bodies.
	ErrInvalidIssue = errors.New("invalid newsletter issue")
)

// Subscription errors.
var (
	// ErrInvalidSubscriber is returned when a subscription request carries an
	// empty name or a malformed email address.
	ErrInvalidSubscriber = errors.New("invalid subscriber")

	// ErrAlreadySubscribed indicates the email address is already registered.
	ErrAlreadySubscribed = errors.New("email already subscribed")

	// ErrUnknownToken is returned when a confirmation token does not exist.
	ErrUnknownToken = errors.New("unknown subscription token")

	// ErrConfirmationEmail is returned when the subscriber was stored but the
	// confirmation email could not be sent.
	ErrConfirmationEmail = errors.New("failed to send confirmation email")
)
