// Package services – SubscriptionService
//
// This file implements sign-up and double opt-in confirmation. A new
// subscriber is stored as pending together with a confirmation token, and a
// link carrying the token is emailed. Only confirmed subscribers receive
// newsletter issues.

package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/email"
	"github.com/tbourn/go-newsletter-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	maxNameRunes   = 256
	forbiddenChars = `/()"<>\{}`
)

// SubscriptionService manages subscribers.
type SubscriptionService struct {
	DB      *gorm.DB
	Sender  email.Sender
	BaseURL string // public base URL used in confirmation links

	// Now defaults to time.Now().UTC().
	Now func() time.Time
}

// NewSubscriptionService wires a SubscriptionService.
func NewSubscriptionService(db *gorm.DB, sender email.Sender, baseURL string) *SubscriptionService {
	return &SubscriptionService{DB: db, Sender: sender, BaseURL: strings.TrimRight(baseURL, "/")}
}

// Subscribe registers a pending subscriber and emails a confirmation link.
//
// Errors: ErrInvalidSubscriber, ErrAlreadySubscribed, ErrConfirmationEmail.
func (s *SubscriptionService) Subscribe(ctx context.Context, name, addr string) (*domain.Subscriber, error) {
	tr := otel.Tracer("services/SubscriptionService")
	ctx, span := tr.Start(ctx, "Subscribe")
	defer span.End()

	name = strings.TrimSpace(name)
	if !validName(name) {
		return nil, fmt.Errorf("%w: name", ErrInvalidSubscriber)
	}
	addr = email.NormalizeAddress(addr)
	if !email.ValidAddress(addr) {
		return nil, fmt.Errorf("%w: email", ErrInvalidSubscriber)
	}

	sub := &domain.Subscriber{
		ID:           uuid.NewString(),
		Email:        addr,
		Name:         name,
		Status:       domain.StatusPendingConfirmation,
		SubscribedAt: s.now(),
	}
	token := newToken()

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateSubscriber(ctx, tx, sub); err != nil {
			return err
		}
		return repo.CreateSubscriptionToken(ctx, tx, sub.ID, token)
	})
	if errors.Is(err, repo.ErrDuplicate) {
		return nil, ErrAlreadySubscribed
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("subscriber.id", sub.ID))

	if err := s.sendConfirmation(ctx, sub, token); err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("subscriber_id", sub.ID).Msg("confirmation email failed")
		return nil, fmt.Errorf("%w: %w", ErrConfirmationEmail, err)
	}
	return sub, nil
}

// Confirm marks the subscriber owning token as confirmed. Confirming twice
// is allowed.
func (s *SubscriptionService) Confirm(ctx context.Context, token string) error {
	tr := otel.Tracer("services/SubscriptionService")
	ctx, span := tr.Start(ctx, "Confirm")
	defer span.End()

	token = strings.TrimSpace(token)
	if token == "" {
		return ErrUnknownToken
	}
	id, err := repo.GetSubscriberIDByToken(ctx, s.DB, token)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrUnknownToken
	}
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("subscriber.id", id))
	return repo.ConfirmSubscriber(ctx, s.DB, id)
}

// ConfirmationLink returns the link emailed to a new subscriber.
func (s *SubscriptionService) ConfirmationLink(token string) string {
	return s.BaseURL + "/subscriptions/confirm?subscription_token=" + url.QueryEscape(token)
}

func (s *SubscriptionService) sendConfirmation(ctx context.Context, sub *domain.Subscriber, token string) error {
	link := s.ConfirmationLink(token)
	html := fmt.Sprintf(`Welcome to our newsletter!<br />Click <a href="%s">here</a> to confirm your subscription.`, link)
	text := fmt.Sprintf("Welcome to our newsletter!\nVisit %s to confirm your subscription.", link)
	return s.Sender.Send(ctx, sub.Email, "Welcome!", html, text)
}

func (s *SubscriptionService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func validName(name string) bool {
	if name == "" || utf8.RuneCountInString(name) > maxNameRunes {
		return false
	}
	return !strings.ContainsAny(name, forbiddenChars)
}

// newToken returns an unguessable confirmation token.
func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
