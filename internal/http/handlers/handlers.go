// Package handlers exposes the REST endpoints of the newsletter backend:
//
//   - POST /subscriptions               (signup, sends confirmation email)
//   - GET  /subscriptions/confirm       (confirm via token link)
//   - POST /admin/newsletters           (idempotent publish)
//   - GET  /admin/newsletters           (list issues, paginated, ETag support)
//   - GET  /admin/deliveries            (delivery queue depth)
//
// Handlers are transport-thin: they bind input, call application services,
// and translate results and errors into HTTP responses.
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/idempotency"
	"github.com/tbourn/go-newsletter-backend/internal/services"
	"github.com/tbourn/go-newsletter-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// NewsletterService publishes and lists newsletter issues.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type NewsletterService interface {
	// Publish stores and fans out an issue once per (userID, key).
	Publish(ctx context.Context, userID string, key idempotency.Key, in services.IssueInput, respond services.Responder) (services.PublishResult, error)
	// ListIssues returns a page of issues, newest first, and the total count.
	ListIssues(ctx context.Context, page, pageSize int) ([]domain.NewsletterIssue, int64, error)
	// IssuesStats returns the issue count and latest publish time for ETags.
	IssuesStats(ctx context.Context) (int64, *time.Time, error)
	// PendingDeliveries returns the number of queued delivery tasks.
	PendingDeliveries(ctx context.Context) (int64, error)
}

// SubscriptionService manages signups and confirmations.
type SubscriptionService interface {
	Subscribe(ctx context.Context, name, email string) (*domain.Subscriber, error)
	Confirm(ctx context.Context, token string) error
}

//
// Handler wiring
//

// Options tunes handler behavior.
type Options struct {
	// BasePath prefixes the Location header of publish redirects (e.g. "/api/v1").
	BasePath string
	// RetryAfter is advertised to clients whose publish hits an in-flight key.
	RetryAfter time.Duration
}

// Handlers groups the HTTP endpoints over the application services.
type Handlers struct {
	news NewsletterService
	subs SubscriptionService
	opts Options
}

// New constructs Handlers bound to the given services.
func New(news NewsletterService, subs SubscriptionService, opts Options) *Handlers {
	if opts.BasePath == "/" {
		opts.BasePath = ""
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = time.Second
	}
	return &Handlers{news: news, subs: subs, opts: opts}
}

//
// Shared DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// clampPagination reads page and page_size. Missing, invalid or
// non-positive sizes fall back to the default page size.
func clampPagination(c *gin.Context) (page, pageSize int) {
	w := utils.ParseWindow(c.Query("page"), c.Query("page_size"))
	return w.Page, w.Size
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.NewWindow(page, pageSize).TotalPages(total)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}
