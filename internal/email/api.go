package email

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	json "github.com/goccy/go-json"
)

// APIConfig configures APISender.
type APIConfig struct {
	BaseURL string
	Token   string
	From    string
	Timeout time.Duration
}

// APISender sends mail through a Postmark-compatible HTTP API.
type APISender struct {
	client *resty.Client
	from   string
}

type apiRequest struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HTMLBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// NewAPISender builds an APISender.
func NewAPISender(cfg APIConfig) *APISender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("X-Postmark-Server-Token", cfg.Token).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)
	return &APISender{client: c, from: cfg.From}
}

// Send posts one message to {base}/email.
//
// Only 400 and 422 are permanent: they reject this message or recipient.
// Everything else, including 401/403 for a bad server token, is a transport
// problem and stays transient.
func (s *APISender) Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(apiRequest{
			From:     s.from,
			To:       recipient,
			Subject:  subject,
			HTMLBody: htmlBody,
			TextBody: textBody,
		}).
		Post("/email")
	if err != nil {
		err = Transient(fmt.Errorf("email api request: %w", err))
		observe("api", err)
		return err
	}

	err = classifyStatus(resp.StatusCode(), resp.String())
	observe("api", err)
	return err
}

func classifyStatus(code int, body string) error {
	if code >= 200 && code < 300 {
		return nil
	}
	err := fmt.Errorf("email api returned %d: %s", code, truncate(body, 256))
	switch code {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return Permanent(err)
	default:
		return Transient(err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
