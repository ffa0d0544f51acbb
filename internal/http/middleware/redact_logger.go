// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access logger. Subscriber email
// addresses and confirmation tokens travel through this service, so nothing
// is logged verbatim: bodies are never logged, sensitive headers and query
// parameters are masked, and anything that looks like an email address or
// UUID is replaced.
package middleware

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions extends the built-in masks.
type RedactOptions struct {
	// MaskHeaders are masked in addition to Authorization, Cookie and Set-Cookie.
	MaskHeaders []string
	// MaskQueryParams are masked in addition to subscription_token.
	MaskQueryParams []string
}

var (
	// UUIDs first: the email pattern would not match them, but keeping the
	// order stable keeps replacements predictable.
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+(?:@|%40)[a-z0-9.\-]+\.[a-z]{2,}`)
)

func redact(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	return emailRE.ReplaceAllString(s, "[REDACTED:email]")
}

// redactQuery masks whole values of sensitive parameters and scrubs the rest.
func redactQuery(raw string, mask map[string]struct{}) string {
	if raw == "" {
		return ""
	}
	q, err := url.ParseQuery(raw)
	if err != nil {
		return redact(raw)
	}
	for k, vv := range q {
		_, masked := mask[strings.ToLower(k)]
		for i := range vv {
			if masked {
				vv[i] = "[REDACTED]"
			} else {
				vv[i] = redact(vv[i])
			}
		}
	}
	// Encode escapes the brackets; readability wins in logs.
	out, _ := url.QueryUnescape(q.Encode())
	return out
}

func lowerSet(builtin []string, extra []string) map[string]struct{} {
	m := make(map[string]struct{}, len(builtin)+len(extra))
	for _, s := range append(builtin, extra...) {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			m[s] = struct{}{}
		}
	}
	return m
}

// RedactingLogger logs one line per request and attaches a request-scoped
// logger (see LoggerFrom) carrying the request and user ids.
//
// Level follows the outcome: error for 5xx or recorded gin errors, warn for
// 4xx, info otherwise.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	maskHeaders := lowerSet([]string{"authorization", "cookie", "set-cookie"}, opts.MaskHeaders)
	maskQuery := lowerSet([]string{"subscription_token"}, opts.MaskQueryParams)

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				headers[k] = "[REDACTED]"
				continue
			}
			headers[k] = redact(strings.Join(vv, ", "))
		}

		l := log.With().
			Str("request_id", c.GetString(requestIDKey)).
			Str("user_id", UserID(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger()
		c.Set(loggerKey, &l)

		c.Next()

		status := c.Writer.Status()
		ev := l.Info()
		switch {
		case status >= 500 || len(c.Errors) > 0:
			ev = l.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
		case status >= 400:
			ev = l.Warn()
		}

		ev.
			Str("query", truncate(redactQuery(c.Request.URL.RawQuery, maskQuery), maxQueryLogLength)).
			Str("remote_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Bool("replay", IsReplay(c)).
			Interface("headers", headers).
			Msg("http_request")
	}
}
