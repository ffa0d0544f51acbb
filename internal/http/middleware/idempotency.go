// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file validates the Idempotency-Key request header. A valid key is
// stashed in the context; when the caller also supplies a lookup and a
// completed response already exists for (user, key), the request is flagged
// as a replay so the rate limiter lets it through. Serving the stored
// response stays the handler's job.
package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/idempotency"
)

// HeaderIdempotencyKey is the request header carrying the idempotency key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

// IdempotencyLookup reports whether a completed response is stored for
// (userID, key). Lookup errors never fail the request.
type IdempotencyLookup func(ctx context.Context, userID, key string) (bool, error)

// GetIdempotencyKey returns the key parsed by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (idempotency.Key, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return idempotency.Key{}, false
	}
	k, ok := v.(idempotency.Key)
	return k, ok && !k.IsZero()
}

// IsReplay reports whether a completed response exists for this request's key.
func IsReplay(c *gin.Context) bool {
	return c.GetBool(ctxKeyIdemReplay)
}

// IdempotencyValidator parses the Idempotency-Key header when present.
// Requests without the header pass through untouched; an invalid header is
// rejected with 400.
func IdempotencyValidator(lookup IdempotencyLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, present := c.Request.Header[HeaderIdempotencyKey]
		if !present {
			c.Next()
			return
		}

		var first string
		if len(raw) > 0 {
			first = raw[0]
		}
		key, err := idempotency.ParseKey(first)
		if err != nil {
			msg := "invalid Idempotency-Key"
			if errors.Is(err, idempotency.ErrInvalidKey) {
				msg = err.Error()
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    msg,
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			if uid := UserID(c); uid != "" && len(uid) <= domain.MaxUserIDLen {
				if done, _ := lookup(c.Request.Context(), uid, key.String()); done {
					c.Set(ctxKeyIdemReplay, true)
					c.Set(ctxKeyRateBypass, true)
				}
			}
		}

		c.Next()
	}
}
