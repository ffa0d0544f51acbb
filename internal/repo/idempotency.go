// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the idempotency
// table that backs safe-retry semantics for admin POST endpoints.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// InsertIdempotencyPlaceholder inserts a pending row for (userID, key) with
// ON CONFLICT DO NOTHING. It reports whether this call created the row.
//
// When run inside a transaction the row stays invisible to other sessions
// until commit; a concurrent insert of the same key blocks on the primary key
// until then and afterwards affects zero rows.
func InsertIdempotencyPlaceholder(ctx context.Context, tx *gorm.DB, userID, key string, now time.Time) (bool, error) {
	rec := &domain.IdempotencyRecord{
		UserID:         userID,
		IdempotencyKey: key,
		CreatedAt:      now,
	}
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// GetIdempotency returns the record for (userID, key) or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, userID, key string) (*domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	err := db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveIdempotencyResponse fills the response columns of an existing row.
// It returns ErrNotFound if no placeholder exists for (userID, key).
func SaveIdempotencyResponse(ctx context.Context, tx *gorm.DB, userID, key string, status int, headers, body []byte) error {
	res := tx.WithContext(ctx).
		Model(&domain.IdempotencyRecord{}).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		Updates(map[string]any{
			"response_status_code": status,
			"response_headers":     headers,
			"response_body":        body,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
