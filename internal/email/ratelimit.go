package email

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedSender caps the send rate of the wrapped transport, shared by
// every worker using it.
type RateLimitedSender struct {
	next    Sender
	limiter *rate.Limiter
}

// NewRateLimitedSender allows rps sends per second with the given burst.
// A non-positive rps disables limiting.
func NewRateLimitedSender(next Sender, rps float64, burst int) *RateLimitedSender {
	lim := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &RateLimitedSender{next: next, limiter: lim}
}

// Send waits for a token, then forwards. Cancellation while waiting is transient.
func (r *RateLimitedSender) Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return Transient(err)
	}
	return r.next.Send(ctx, recipient, subject, htmlBody, textBody)
}
