// Newsletter HTTP handlers.
//
// Idempotency:
// POST /admin/newsletters requires an idempotency key, taken from the
// Idempotency-Key header or, for HTML form posts, the idempotency_key field.
// The first request for (user, key) publishes the issue and stores the
// response; later requests with the same key get that exact response back,
// status, headers and body unchanged. A request that arrives while the first
// one is still running gets 409 with Retry-After.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/http/middleware"
	"github.com/tbourn/go-newsletter-backend/internal/idempotency"
	"github.com/tbourn/go-newsletter-backend/internal/services"
)

// PublishNewsletterRequest is the JSON or form payload for publishing.
type PublishNewsletterRequest struct {
	Title       string `json:"title"        form:"title"        example:"October update"`
	TextContent string `json:"text_content" form:"text_content" example:"Hello subscribers..."`
	HTMLContent string `json:"html_content" form:"html_content" example:"<p>Hello subscribers...</p>"`
	// IdempotencyKey is used when the Idempotency-Key header is absent.
	IdempotencyKey string `json:"idempotency_key" form:"idempotency_key" example:"7a8d9f4c-1b2a-4c3d"`
}

// PublishNewsletterResponse is the body of a successful publish (and of
// every replay of it).
type PublishNewsletterResponse struct {
	IssueID string `json:"issue_id" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	Message string `json:"message"  example:"The newsletter issue has been published!"`
}

// ListIssuesResponse wraps a page of issues and pagination information.
type ListIssuesResponse struct {
	Issues     []domain.NewsletterIssue `json:"issues"`
	Pagination Pagination               `json:"pagination"`
}

// DeliveriesResponse reports the delivery queue depth.
type DeliveriesResponse struct {
	Pending int64 `json:"pending" example:"12"`
}

const publishedMessage = "The newsletter issue has been published!"

// PublishNewsletter godoc
// @ID          publishNewsletter
// @Summary     Publish a newsletter issue
// @Description Publishes an issue to all confirmed subscribers exactly once per idempotency key.
// @Description Replays return the stored response unchanged.
// @Tags        Newsletters
// @Accept      json
// @Accept      x-www-form-urlencoded
// @Produce     json
//
// @Param       X-User-ID        header  string  true  "Authenticated user id"                example(admin-1)
// @Param       Idempotency-Key  header  string  false "Idempotency key (1-49 chars)"         example(7a8d9f4c-1b2a-4c3d)
// @Param       body             body    handlers.PublishNewsletterRequest  true  "Issue payload"
//
// @Success     303  {object}  handlers.PublishNewsletterResponse
// @Header      303  {string}  Location              "Issues listing"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid payload or idempotency key"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing user"
// @Failure     409  {object}  handlers.ErrorResponse  "Same key still in progress"
// @Header      409  {string}  Retry-After             "Seconds to wait"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/newsletters [post]
func (h *Handlers) PublishNewsletter(c *gin.Context) {
	var req PublishNewsletterRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	key, present := middleware.GetIdempotencyKey(c)
	if !present {
		var err error
		if key, err = idempotency.ParseKey(req.IdempotencyKey); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeInvalidIdempotencyKey, "idempotency key must be 1-49 characters")
			return
		}
	}

	location := h.opts.BasePath + "/admin/newsletters"
	respond := func(issueID string) (idempotency.Response, error) {
		body, err := json.Marshal(PublishNewsletterResponse{IssueID: issueID, Message: publishedMessage})
		if err != nil {
			return idempotency.Response{}, err
		}
		return idempotency.Response{
			StatusCode: http.StatusSeeOther,
			Headers: []idempotency.HeaderPair{
				{Name: "Location", Value: location},
				{Name: "Content-Type", Value: "application/json; charset=utf-8"},
			},
			Body: body,
		}, nil
	}

	in := services.IssueInput{Title: req.Title, TextContent: req.TextContent, HTMLContent: req.HTMLContent}
	res, err := h.news.Publish(c.Request.Context(), middleware.UserID(c), key, in, respond)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrInvalidIssue):
		fail(c, http.StatusBadRequest, ErrCodeInvalidIssue, "title, text_content and html_content are required")
		return
	case errors.Is(err, idempotency.ErrConflictRetryLater):
		retryAfter(c, h.opts.RetryAfter)
		fail(c, http.StatusConflict, ErrCodePublishInProgress, "a request with this idempotency key is still being processed")
		return
	default:
		failInternal(c, err, ErrCodePublishFailed, "failed to publish newsletter issue")
		return
	}

	if res.Replayed {
		middleware.LoggerFrom(c).Info().Str("idempotency_key", key.String()).Msg("publish replayed from stored response")
	}
	res.Response.WriteTo(c)
}

// ListNewsletters godoc
// @ID          listNewsletters
// @Summary     List published issues (paginated)
// @Description Returns issues newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Newsletters
// @Produce     json
//
// @Param       X-User-ID      header  string  true  "Authenticated user id"       example(admin-1)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"issues:3:1700000000\")
// @Param       page           query   int     false "Page number"                 minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"              minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListIssuesResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Missing user"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /admin/newsletters [get]
func (h *Handlers) ListNewsletters(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	// The ETag covers the whole collection, so it is computed before paging.
	if count, latest, err := h.news.IssuesStats(ctx); err == nil {
		var ts int64
		if latest != nil {
			ts = latest.UnixNano()
		}
		etag := fmt.Sprintf(`W/"issues:%d:%d:%d:%d"`, count, ts, page, pageSize)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && strings.TrimSpace(inm) == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.news.ListIssues(ctx, page, pageSize)
	if err != nil {
		failInternal(c, err, ErrCodeListFailed, "failed to list issues")
		return
	}
	ok(c, http.StatusOK, ListIssuesResponse{
		Issues:     items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// PendingDeliveries godoc
// @ID          pendingDeliveries
// @Summary     Delivery queue depth
// @Description Number of delivery tasks still waiting to be sent or retried.
// @Tags        Newsletters
// @Produce     json
// @Param       X-User-ID  header  string  true  "Authenticated user id"  example(admin-1)
// @Success     200  {object} handlers.DeliveriesResponse
// @Failure     401  {object} handlers.ErrorResponse "Missing user"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /admin/deliveries [get]
func (h *Handlers) PendingDeliveries(c *gin.Context) {
	n, err := h.news.PendingDeliveries(c.Request.Context())
	if err != nil {
		failInternal(c, err, ErrCodeInternal, "failed to read delivery queue")
		return
	}
	ok(c, http.StatusOK, DeliveriesResponse{Pending: n})
}
