package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

func TestCreateSubscriber_Duplicate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	s := &domain.Subscriber{ID: "s1", Email: "a@example.com", Name: "A", Status: domain.StatusPendingConfirmation, SubscribedAt: time.Now().UTC()}
	if err := CreateSubscriber(ctx, db, s); err != nil {
		t.Fatalf("CreateSubscriber: %v", err)
	}
	dup := &domain.Subscriber{ID: "s2", Email: "a@example.com", Name: "B", Status: domain.StatusPendingConfirmation, SubscribedAt: time.Now().UTC()}
	if err := CreateSubscriber(ctx, db, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestSubscriptionToken_ConfirmFlow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := seedSubscriber(t, db, "b@example.com", domain.StatusPendingConfirmation)

	if err := CreateSubscriptionToken(ctx, db, s.ID, "tok123"); err != nil {
		t.Fatalf("CreateSubscriptionToken: %v", err)
	}
	if _, err := GetSubscriberIDByToken(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown token, got %v", err)
	}
	id, err := GetSubscriberIDByToken(ctx, db, "tok123")
	if err != nil || id != s.ID {
		t.Fatalf("GetSubscriberIDByToken: id=%q err=%v", id, err)
	}

	if n, _ := CountConfirmedSubscribers(ctx, db); n != 0 {
		t.Fatalf("expected 0 confirmed before confirm, got %d", n)
	}
	if err := ConfirmSubscriber(ctx, db, id); err != nil {
		t.Fatalf("ConfirmSubscriber: %v", err)
	}
	got, err := GetSubscriber(ctx, db, id)
	if err != nil || got.Status != domain.StatusConfirmed {
		t.Fatalf("expected confirmed, got %+v err=%v", got, err)
	}
	if n, _ := CountConfirmedSubscribers(ctx, db); n != 1 {
		t.Fatalf("expected 1 confirmed, got %d", n)
	}

	if err := ConfirmSubscriber(ctx, db, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown subscriber, got %v", err)
	}
}

func TestCreateSubscriptionToken_UnknownSubscriberViolatesFK(t *testing.T) {
	db := newTestDB(t)
	if err := CreateSubscriptionToken(context.Background(), db, "ghost", "tok"); err == nil {
		t.Fatalf("expected foreign key error")
	}
}
