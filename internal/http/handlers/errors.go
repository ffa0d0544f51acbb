// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are stable, lowercase snake_case strings returned in the `code` field
// of every error envelope (see fail in response.go). Clients branch on the
// code; the message is for humans only.
//
// Generic codes mirror HTTP status semantics. Domain codes cover outcomes the
// status alone cannot express, e.g. telling "this key is still being
// processed" (publish_in_progress) apart from other conflicts.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "publish_in_progress",
//	  "message": "a request with this idempotency key is still being processed"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Newsletter publishing.
	ErrCodeInvalidIssue          = "invalid_issue"
	ErrCodeInvalidIdempotencyKey = "bad_idempotency_key"
	ErrCodePublishInProgress     = "publish_in_progress"
	ErrCodePublishFailed         = "publish_failed"
	ErrCodeListFailed            = "list_failed"

	// Subscriptions.
	ErrCodeInvalidSubscriber = "invalid_subscriber"
	ErrCodeAlreadySubscribed = "already_subscribed"
	ErrCodeUnknownToken      = "unknown_token"
	ErrCodeSubscribeFailed   = "subscribe_failed"
	ErrCodeConfirmFailed     = "confirm_failed"
)
