package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// claimSQL builds the statement that stamps the oldest due task and returns
// its id. A leased claim also pushes execute_after to the lease end so other
// workers skip the task while it is being sent.
func claimSQL(dialect string, lease bool) string {
	set := "last_attempt_at = ?"
	if lease {
		set += ", execute_after = ?"
	}
	lock := ""
	if dialect == DriverPostgres {
		lock = " FOR UPDATE SKIP LOCKED"
	}
	return `UPDATE issue_delivery_queue SET ` + set + `
WHERE id = (
	SELECT id FROM issue_delivery_queue
	WHERE execute_after <= ?
	ORDER BY id
	LIMIT 1` + lock + `
)
RETURNING id`
}

// ClaimDeliveryTask picks the oldest due task inside tx and stamps its
// last_attempt_at. On PostgreSQL the row is locked with SKIP LOCKED so
// concurrent workers never claim the same task and the lock lasts until tx
// ends.
//
// Returns ErrNotFound when nothing is due.
func ClaimDeliveryTask(ctx context.Context, tx *gorm.DB, now time.Time) (*domain.DeliveryTask, error) {
	return claim(ctx, tx, claimSQL(tx.Dialector.Name(), false), now, now)
}

// LeaseDeliveryTask claims the oldest due task in one statement and hides it
// from other workers until until. It holds no lock after returning, so it is
// the claim used on SQLite, where a transaction spanning the send would hold
// the database write lock for the whole send.
//
// Returns ErrNotFound when nothing is due.
func LeaseDeliveryTask(ctx context.Context, db *gorm.DB, now, until time.Time) (*domain.DeliveryTask, error) {
	return claim(ctx, db, claimSQL(db.Dialector.Name(), true), now, until, now)
}

func claim(ctx context.Context, db *gorm.DB, q string, args ...any) (*domain.DeliveryTask, error) {
	var ids []uint64
	if err := db.WithContext(ctx).Raw(q, args...).Scan(&ids).Error; err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}

	var task domain.DeliveryTask
	if err := db.WithContext(ctx).Where("id = ?", ids[0]).Take(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &task, nil
}

// DeleteDeliveryTask resolves a task by removing it from the queue.
func DeleteDeliveryTask(ctx context.Context, tx *gorm.DB, id uint64) error {
	return tx.WithContext(ctx).Where("id = ?", id).Delete(&domain.DeliveryTask{}).Error
}

// RescheduleDeliveryTask records a failed attempt and pushes the task back.
func RescheduleDeliveryTask(ctx context.Context, tx *gorm.DB, id uint64, retryCount int, lastErr string, executeAfter time.Time) error {
	res := tx.WithContext(ctx).
		Model(&domain.DeliveryTask{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count":   retryCount,
			"last_error":    lastErr,
			"execute_after": executeAfter,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountPendingDeliveries returns the queue depth, due or not.
func CountPendingDeliveries(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.DeliveryTask{}).Count(&n).Error
	return n, err
}

// CountPendingDeliveriesForIssue returns the number of unresolved tasks of one issue.
func CountPendingDeliveriesForIssue(ctx context.Context, db *gorm.DB, issueID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.DeliveryTask{}).
		Where("issue_id = ?", issueID).
		Count(&n).Error
	return n, err
}
