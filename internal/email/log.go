package email

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogSender writes messages to the log instead of sending them. Useful for
// local development.
type LogSender struct{}

// Send logs the message and always succeeds.
func (LogSender) Send(_ context.Context, recipient, subject, htmlBody, textBody string) error {
	log.Info().
		Str("to", recipient).
		Str("subject", subject).
		Int("html_bytes", len(htmlBody)).
		Int("text_bytes", len(textBody)).
		Msg("email (log transport)")
	observe("log", nil)
	return nil
}
