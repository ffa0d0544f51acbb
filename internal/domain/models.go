// Package domain defines the persistence models for subscribers, newsletter
// issues, and the delivery outbox. These types are mapped with GORM and form
// the core data layer of the newsletter backend.
package domain

import "time"

// Subscriber status values.
const (
	StatusPendingConfirmation = "pending_confirmation"
	StatusConfirmed           = "confirmed"
)

// Subscriber is a person who signed up to receive newsletter issues. Only
// confirmed subscribers receive deliveries.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Email: case-folded address; unique across subscribers.
//   - Name: display name supplied at signup.
//   - Status: "pending_confirmation" or "confirmed".
//   - SubscribedAt: signup timestamp (UTC).
type Subscriber struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	Email        string    `json:"email"         gorm:"type:varchar(320);not null;uniqueIndex:ux_subscriptions_email"`
	Name         string    `json:"name"          gorm:"type:varchar(255);not null"`
	Status       string    `json:"status"        gorm:"type:varchar(32);not null;index;check:status IN ('pending_confirmation','confirmed')"`
	SubscribedAt time.Time `json:"subscribed_at" gorm:"not null"`
}

// TableName returns the database table name for Subscriber.
func (Subscriber) TableName() string { return "subscriptions" }

// SubscriptionToken links an opaque confirmation token to a subscriber.
type SubscriptionToken struct {
	Token        string `gorm:"type:varchar(64);primaryKey"`
	SubscriberID string `gorm:"type:char(36);not null;index"`

	// Subscriber is cascade-deleted together with its tokens.
	Subscriber Subscriber `gorm:"foreignKey:SubscriberID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for SubscriptionToken.
func (SubscriptionToken) TableName() string { return "subscription_tokens" }

// NewsletterIssue is a published newsletter. It is created exactly once per
// successful publish and never updated afterwards.
type NewsletterIssue struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	Title       string    `json:"title"        gorm:"type:text;not null"`
	TextContent string    `json:"text_content" gorm:"type:text;not null"`
	HTMLContent string    `json:"html_content" gorm:"type:text;not null"`
	PublishedAt time.Time `json:"published_at" gorm:"not null;index"`
}

// TableName returns the database table name for NewsletterIssue.
func (NewsletterIssue) TableName() string { return "newsletter_issues" }

// DeliveryTask is one pending email of an issue to one subscriber. The row
// exists while the email is pending and is deleted once the delivery is
// resolved (sent, or discarded as poison).
//
// Fields:
//   - ID: autoincrement surrogate key; claim order follows it.
//   - IssueID / SubscriberEmail: unique pair, enqueueing twice is a no-op.
//   - RetryCount: failed attempts so far.
//   - ExecuteAfter: the task is not claimable before this instant.
//   - LastAttemptAt / LastError: diagnostics of the latest attempt.
type DeliveryTask struct {
	ID              uint64     `json:"id"               gorm:"primaryKey;autoIncrement"`
	IssueID         string     `json:"issue_id"         gorm:"type:char(36);not null;uniqueIndex:ux_delivery_issue_email,priority:1"`
	SubscriberEmail string     `json:"subscriber_email" gorm:"type:varchar(320);not null;uniqueIndex:ux_delivery_issue_email,priority:2"`
	RetryCount      int        `json:"retry_count"      gorm:"not null;default:0"`
	ExecuteAfter    time.Time  `json:"execute_after"    gorm:"not null;index"`
	LastAttemptAt   *time.Time `json:"last_attempt_at,omitempty"`
	LastError       *string    `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt       time.Time  `json:"created_at"`

	Issue NewsletterIssue `json:"-" gorm:"foreignKey:IssueID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for DeliveryTask.
func (DeliveryTask) TableName() string { return "issue_delivery_queue" }
