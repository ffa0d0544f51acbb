// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// IssuesStats returns the number of published issues and the latest
// PublishedAt among them. When there are no issues, maxPublishedAt is nil.
//
// Issues are immutable, so the pair changes exactly when the listing does.
func IssuesStats(ctx context.Context, db *gorm.DB) (count int64, maxPublishedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.NewsletterIssue{})

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest published_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		PublishedAt time.Time
	}
	if err = q.Select("published_at").Order("published_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.PublishedAt, nil
}
