package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

// CreateSubscriber inserts a subscriber and returns ErrDuplicate when the
// email is already registered.
func CreateSubscriber(ctx context.Context, db *gorm.DB, s *domain.Subscriber) error {
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// CreateSubscriptionToken stores a confirmation token for a subscriber.
func CreateSubscriptionToken(ctx context.Context, db *gorm.DB, subscriberID, token string) error {
	return db.WithContext(ctx).
		Create(&domain.SubscriptionToken{Token: token, SubscriberID: subscriberID}).Error
}

// GetSubscriberIDByToken resolves a confirmation token or returns ErrNotFound.
func GetSubscriberIDByToken(ctx context.Context, db *gorm.DB, token string) (string, error) {
	var t domain.SubscriptionToken
	err := db.WithContext(ctx).Where("token = ?", token).Take(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return t.SubscriberID, nil
}

// ConfirmSubscriber marks the subscriber as confirmed. Confirming an already
// confirmed subscriber is a no-op.
func ConfirmSubscriber(ctx context.Context, db *gorm.DB, subscriberID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Subscriber{}).
		Where("id = ?", subscriberID).
		Update("status", domain.StatusConfirmed)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSubscriber loads a subscriber by id.
func GetSubscriber(ctx context.Context, db *gorm.DB, id string) (*domain.Subscriber, error) {
	var s domain.Subscriber
	err := db.WithContext(ctx).Where("id = ?", id).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CountConfirmedSubscribers returns the number of subscribers that will
// receive the next published issue.
func CountConfirmedSubscribers(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Subscriber{}).
		Where("status = ?", domain.StatusConfirmed).
		Count(&n).Error
	return n, err
}
