package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// enqueueIssueSQL fans an issue out to every confirmed subscriber in one
// statement. Timestamps are taken from the issue row so the statement binds
// no time parameters.
const enqueueIssueSQL = `
INSERT INTO issue_delivery_queue (issue_id, subscriber_email, retry_count, execute_after, created_at)
SELECT i.id, s.email, 0, i.published_at, i.published_at
FROM newsletter_issues i, subscriptions s
WHERE i.id = ? AND s.status = ?
ON CONFLICT (issue_id, subscriber_email) DO NOTHING`

// CreateIssue inserts a newsletter issue.
func CreateIssue(ctx context.Context, db *gorm.DB, issue *domain.NewsletterIssue) error {
	return db.WithContext(ctx).Create(issue).Error
}

// GetIssue loads an issue by id or returns ErrNotFound.
func GetIssue(ctx context.Context, db *gorm.DB, id string) (*domain.NewsletterIssue, error) {
	var issue domain.NewsletterIssue
	err := db.WithContext(ctx).Where("id = ?", id).Take(&issue).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

// EnqueueDeliveryTasks snapshots the confirmed subscribers into the delivery
// queue for issueID and returns the number of tasks created. Rows already
// present for (issue, email) are left untouched.
func EnqueueDeliveryTasks(ctx context.Context, db *gorm.DB, issueID string) (int64, error) {
	res := db.WithContext(ctx).Exec(enqueueIssueSQL, issueID, domain.StatusConfirmed)
	return res.RowsAffected, res.Error
}

// ListIssuesPage returns issues newest first using offset pagination.
func ListIssuesPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.NewsletterIssue, int64, error) {
	var (
		total  int64
		issues []domain.NewsletterIssue
	)
	if err := db.WithContext(ctx).Model(&domain.NewsletterIssue{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := db.WithContext(ctx).Order("published_at DESC").Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&issues).Error; err != nil {
		return nil, 0, err
	}
	return issues, total, nil
}
