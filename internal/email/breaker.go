package email

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerConfig configures BreakerSender.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32        // consecutive transient failures before opening
	Timeout          time.Duration // how long the breaker stays open
	MaxRequests      uint32        // trial requests allowed while half-open
}

// BreakerSender stops calling a failing transport for a while. Only transient
// failures count against the breaker; a rejected recipient says nothing about
// the health of the transport.
type BreakerSender struct {
	next Sender
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreakerSender wraps next with a circuit breaker.
func NewBreakerSender(next Sender, cfg BreakerConfig) *BreakerSender {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Name == "" {
		cfg.Name = "email"
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("email circuit breaker state change")
		},
	}
	return &BreakerSender{next: next, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// Send forwards to the wrapped sender unless the breaker is open, in which
// case it fails fast with a transient ErrUnavailable.
func (b *BreakerSender) Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.Send(ctx, recipient, subject, htmlBody, textBody)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Transient(fmt.Errorf("%w: %w", ErrUnavailable, err))
	}
	return err
}

// State returns the breaker state for health reporting.
func (b *BreakerSender) State() string { return b.cb.State().String() }
