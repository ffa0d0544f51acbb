package main

import (
	"github.com/tbourn/go-newsletter-backend/internal/config"
	"github.com/tbourn/go-newsletter-backend/internal/email"
)

// buildSender assembles the outgoing mail chain:
// transport → circuit breaker → shared rate limit.
func buildSender(cfg config.EmailConfig) email.Sender {
	var transport email.Sender
	switch cfg.Transport {
	case config.TransportSMTP:
		transport = email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.Sender,
			FromName: cfg.SenderName,
			Timeout:  cfg.Timeout,
		})
	case config.TransportAPI:
		transport = email.NewAPISender(email.APIConfig{
			BaseURL: cfg.API.BaseURL,
			Token:   cfg.API.Token,
			From:    cfg.Sender,
			Timeout: cfg.Timeout,
		})
	default:
		return email.NewRateLimitedSender(email.LogSender{}, cfg.SendRPS, cfg.SendBurst)
	}

	guarded := email.NewBreakerSender(transport, email.BreakerConfig{
		Name:             cfg.Transport,
		FailureThreshold: cfg.BreakerFailures,
		Timeout:          cfg.BreakerTimeout,
	})
	return email.NewRateLimitedSender(guarded, cfg.SendRPS, cfg.SendBurst)
}
