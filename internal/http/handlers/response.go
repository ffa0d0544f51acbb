// Package handlers provides HTTP handler implementations for the public API.
//
// This file holds the response helpers shared by every endpoint. Errors
// always leave as the same JSON envelope so clients can branch on `code`
// without parsing messages:
//
//	HTTP/1.1 401 Unauthorized
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "unknown_token",
//	  "message": "unknown subscription token"
//	}
package handlers

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter-backend/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"resource not found"`
}

func newErrorResponse(c *gin.Context, code, msg string) ErrorResponse {
	return ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}
}

// fail aborts with the error envelope. 5xx responses are logged with the
// request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, newErrorResponse(c, code, msg))
}

// failInternal answers 500 and keeps the cause out of the body. The cause is
// attached to the gin context and to the log line.
func failInternal(c *gin.Context, cause error, code, msg string) {
	if cause != nil {
		_ = c.Error(cause)
	}
	middleware.LoggerFrom(c).Error().
		Err(cause).
		Int("status", http.StatusInternalServerError).
		Str("code", code).
		Msg(msg)
	c.AbortWithStatusJSON(http.StatusInternalServerError, newErrorResponse(c, code, msg))
}

// Fail lets the router answer with the same envelope (NoRoute, NoMethod).
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// retryAfter sets Retry-After in whole seconds, never below one.
func retryAfter(c *gin.Context, d time.Duration) {
	secs := max(int(math.Ceil(d.Seconds())), 1)
	c.Header("Retry-After", strconv.Itoa(secs))
}
