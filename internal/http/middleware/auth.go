// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the acting user. Authentication itself happens upstream
// (gateway or session layer); this service only trusts the user id it is
// handed, either in the Gin context under "userID" or in the X-User-ID header.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
)

const (
	// HeaderUserID carries the authenticated user id set by the upstream proxy.
	HeaderUserID = "X-User-ID"

	ctxKeyUserID = "userID"
)

// UserID returns the acting user id, or "" when the request is anonymous.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c.Request != nil {
		return strings.TrimSpace(c.GetHeader(HeaderUserID))
	}
	return ""
}

// RequireUser rejects anonymous requests, and user ids longer than
// domain.MaxUserIDLen, with 401. It stores the user id in the context for
// downstream middleware and handlers.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := UserID(c)
		if uid == "" || len(uid) > domain.MaxUserIDLen {
			msg := "authentication required"
			if uid != "" {
				msg = "user id too long"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    msg,
			})
			return
		}
		c.Set(ctxKeyUserID, uid)
		c.Next()
	}
}
