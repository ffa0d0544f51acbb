// Package services – NewsletterService
//
// This file implements NewsletterService, which publishes newsletter issues
// exactly once per (user, idempotency key). Publishing stores the issue,
// fans it out into the delivery queue and saves the HTTP response in a
// single transaction; retries of the same request get the saved response.
//
// Observability: all public methods are OpenTelemetry-instrumented.

package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/idempotency"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
	"github.com/tbourn/go-newsletter-backend/internal/utils"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NewsletterService publishes and lists newsletter issues.
type NewsletterService struct {
	DB   *gorm.DB
	Idem *idempotency.Store

	// Now defaults to time.Now().UTC().
	Now func() time.Time
}

// NewNewsletterService wires a NewsletterService over db.
func NewNewsletterService(db *gorm.DB) *NewsletterService {
	return &NewsletterService{DB: db, Idem: idempotency.NewStore(db)}
}

// PublishResult is what the caller should send back to the client.
type PublishResult struct {
	Response idempotency.Response
	Replayed bool
	IssueID  string // empty on replay
	Tasks    int64  // delivery tasks enqueued; zero on replay
}

// Responder renders the HTTP response for a freshly published issue. The
// returned value is stored and replayed to retries.
type Responder func(issueID string) (idempotency.Response, error)

// Publish validates in and publishes it once for (userID, key).
//
// Errors: ErrInvalidIssue, idempotency.ErrConflictRetryLater while another
// request with the same key is in flight, idempotency.ErrStorage on database
// failures.
func (s *NewsletterService) Publish(ctx context.Context, userID string, key idempotency.Key, in IssueInput, respond Responder) (PublishResult, error) {
	tr := otel.Tracer("services/NewsletterService")
	ctx, span := tr.Start(ctx, "Publish",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("idempotency.key", key.String()),
		),
	)
	defer span.End()

	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" || strings.TrimSpace(in.TextContent) == "" || strings.TrimSpace(in.HTMLContent) == "" {
		return PublishResult{}, ErrInvalidIssue
	}

	out, err := s.Idem.BeginOrReplay(ctx, userID, key)
	if err != nil {
		span.RecordError(err)
		return PublishResult{}, err
	}
	if out.Replay != nil {
		span.SetAttributes(attribute.Bool("idempotency.replayed", true))
		return PublishResult{Response: *out.Replay, Replayed: true}, nil
	}

	txn := out.Txn
	defer txn.Rollback()

	issueID, tasks, err := EnqueueIssue(ctx, txn.Tx(), in, s.now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue failed")
		return PublishResult{}, fmt.Errorf("%w: %w", idempotency.ErrStorage, err)
	}

	resp, err := respond(issueID)
	if err != nil {
		return PublishResult{}, fmt.Errorf("render response: %w", err)
	}
	if err := txn.Complete(ctx, resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "complete failed")
		return PublishResult{}, err
	}

	span.SetAttributes(
		attribute.String("issue.id", issueID),
		attribute.Int64("delivery.tasks", tasks),
	)
	log.Info().
		Str("issue_id", issueID).
		Str("user_id", userID).
		Int64("tasks", tasks).
		Msg("newsletter issue published")

	return PublishResult{Response: resp, IssueID: issueID, Tasks: tasks}, nil
}

// ListIssues returns a page of published issues, newest first.
func (s *NewsletterService) ListIssues(ctx context.Context, page, pageSize int) ([]domain.NewsletterIssue, int64, error) {
	tr := otel.Tracer("services/NewsletterService")
	ctx, span := tr.Start(ctx, "ListIssues",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	w := utils.NewWindow(page, pageSize)
	items, total, err := repo.ListIssuesPage(ctx, s.DB, w.Offset(), w.Size)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []domain.NewsletterIssue{}
	}
	return items, total, nil
}

// IssuesStats returns the issue count and latest publication time, used for
// conditional GETs.
func (s *NewsletterService) IssuesStats(ctx context.Context) (int64, *time.Time, error) {
	tr := otel.Tracer("services/NewsletterService")
	ctx, span := tr.Start(ctx, "IssuesStats")
	defer span.End()

	return repo.IssuesStats(ctx, s.DB)
}

// PendingDeliveries returns the number of delivery tasks not yet resolved.
func (s *NewsletterService) PendingDeliveries(ctx context.Context) (int64, error) {
	tr := otel.Tracer("services/NewsletterService")
	ctx, span := tr.Start(ctx, "PendingDeliveries")
	defer span.End()

	return repo.CountPendingDeliveries(ctx, s.DB)
}

func (s *NewsletterService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
