package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// IssueInput is the content of a newsletter issue to publish.
type IssueInput struct {
	Title       string
	TextContent string
	HTMLContent string
}

// EnqueueIssue stores the issue and one delivery task per confirmed
// subscriber. It must run on the caller's transaction so the issue, its
// tasks and whatever else the caller writes commit or roll back together.
//
// The subscriber set is read when this runs; later confirmations are not
// included.
func EnqueueIssue(ctx context.Context, tx *gorm.DB, in IssueInput, publishedAt time.Time) (issueID string, tasks int64, err error) {
	issue := &domain.NewsletterIssue{
		ID:          uuid.NewString(),
		Title:       in.Title,
		TextContent: in.TextContent,
		HTMLContent: in.HTMLContent,
		PublishedAt: publishedAt,
	}
	if err := repo.CreateIssue(ctx, tx, issue); err != nil {
		return "", 0, fmt.Errorf("insert issue: %w", err)
	}
	n, err := repo.EnqueueDeliveryTasks(ctx, tx, issue.ID)
	if err != nil {
		return "", 0, fmt.Errorf("enqueue delivery tasks: %w", err)
	}
	return issue.ID, n, nil
}
